package redisengine

import "github.com/redis/go-redis/v9"

// ARGV[1] of every script is the current time in unix milliseconds.
const prelude = `
local now = tonumber(ARGV[1])
local function locked(key, cas)
  local l = tonumber(redis.call('HGET', key, 'l') or '0')
  if l > now then
    return cas == 0 or tonumber(redis.call('HGET', key, 'c')) ~= cas
  end
  return false
end
local function expire(key, at)
  if at > 0 then redis.call('PEXPIREAT', key, at) else redis.call('PERSIST', key) end
end
`

// KEYS: item, cas counter. ARGV: now, mode, value, flags, expireAt, cas
var storeScript = redis.NewScript(prelude + `
local mode = tonumber(ARGV[2])
local cas = tonumber(ARGV[6])
if redis.call('EXISTS', KEYS[1]) == 1 then
  if locked(KEYS[1], cas) then return redis.error_reply('LOCKED') end
  if cas ~= 0 and tonumber(redis.call('HGET', KEYS[1], 'c')) ~= cas then return redis.error_reply('KEY_EEXISTS') end
  if mode == 1 then return redis.error_reply('KEY_EEXISTS') end
else
  if cas ~= 0 or mode == 2 then return redis.error_reply('KEY_ENOENT') end
  if mode == 4 or mode == 5 then return redis.error_reply('NOT_STORED') end
end
local newcas = redis.call('INCR', KEYS[2])
if mode == 4 or mode == 5 then
  local cur = redis.call('HGET', KEYS[1], 'v')
  local v
  if mode == 4 then v = cur .. ARGV[3] else v = ARGV[3] .. cur end
  redis.call('HSET', KEYS[1], 'v', v, 'c', newcas, 'l', 0)
  return newcas
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'v', ARGV[3], 'f', ARGV[4], 'c', newcas, 'l', 0)
expire(KEYS[1], tonumber(ARGV[5]))
return newcas
`)

// KEYS: item, cas counter. ARGV: now, cas
var removeScript = redis.NewScript(prelude + `
local cas = tonumber(ARGV[2])
if redis.call('EXISTS', KEYS[1]) == 0 then return redis.error_reply('KEY_ENOENT') end
if locked(KEYS[1], cas) then return redis.error_reply('LOCKED') end
if cas ~= 0 and tonumber(redis.call('HGET', KEYS[1], 'c')) ~= cas then return redis.error_reply('KEY_EEXISTS') end
redis.call('DEL', KEYS[1])
return redis.call('INCR', KEYS[2])
`)

// KEYS: item, cas counter. ARGV: now, delta, initial, create, expireAt.
// Returns {value, cas}.
var arithmeticScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  if ARGV[4] ~= '1' then return redis.error_reply('KEY_ENOENT') end
  local newcas = redis.call('INCR', KEYS[2])
  redis.call('HSET', KEYS[1], 'v', ARGV[3], 'f', 0, 'c', newcas, 'l', 0)
  expire(KEYS[1], tonumber(ARGV[5]))
  return {ARGV[3], newcas}
end
if locked(KEYS[1], 0) then return redis.error_reply('LOCKED') end
local cur = redis.call('HGET', KEYS[1], 'v')
if not string.match(cur, '^%d+$') then return redis.error_reply('DELTA_BADVAL') end
local v = tonumber(cur) + tonumber(ARGV[2])
if v < 0 then v = 0 end
local s = string.format('%d', v)
local newcas = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', s, 'c', newcas)
return {s, newcas}
`)

// KEYS: item, cas counter. ARGV: now, expireAt
var touchScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return redis.error_reply('KEY_ENOENT') end
if locked(KEYS[1], 0) then return redis.error_reply('LOCKED') end
local newcas = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'c', newcas)
expire(KEYS[1], tonumber(ARGV[2]))
return newcas
`)

// KEYS: item, cas counter. ARGV: now, lockUntil. Returns {value, flags, cas}.
var getAndLockScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return redis.error_reply('KEY_ENOENT') end
if locked(KEYS[1], 0) then return redis.error_reply('LOCKED') end
local newcas = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'c', newcas, 'l', ARGV[2])
local item = redis.call('HMGET', KEYS[1], 'v', 'f')
return {item[1], item[2], newcas}
`)

// KEYS: item. ARGV: now, cas
var unlockScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return redis.error_reply('KEY_ENOENT') end
local item = redis.call('HMGET', KEYS[1], 'c', 'l')
if tonumber(item[2] or '0') <= now then return redis.error_reply('NOT_LOCKED') end
if tonumber(item[1]) ~= tonumber(ARGV[2]) then return redis.error_reply('LOCKED') end
redis.call('HSET', KEYS[1], 'l', 0)
return 1
`)

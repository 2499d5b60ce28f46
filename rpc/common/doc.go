// Package common provides the data structures shared by the kvbind RPC
// client and server.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. A request
//     carries a session token obtained by an Auth message, the response
//     carries the completion status of the operation.
//
//   - MessageType: Enumeration of all supported operation types, categorized
//     into session operations, key-value operations and node operations.
//
//   - ServerConfig / ClientConfig: Configuration of the node and of the
//     remote engine, validated with go-playground/validator.
//
//   - Logger: zap backed implementation of dragonboat's logger.ILogger, used
//     by every package of kvbind through logger.GetLogger.
package common

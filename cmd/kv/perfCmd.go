package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/kvbind/cmd/util"
	"github.com/ValentinKolb/kvbind/lib/binding"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/fatih/color"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for kvbind servers",
		Long:    "Runs benchmarks against a kvbind server. Every thread drives its own connection and keeps up to --pipeline operations in flight.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfPipeline         = 16
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)

	// Latencies of all operations, one timer per test
	perfRegistry = gometrics.NewRegistry()
)

// perfTest is one benchmark. issue starts the i-th operation on conn.
type perfTest struct {
	name    string
	kind    completion.Kind
	prepare bool
	issue   func(conn *binding.Connection, key string, i int, cookie any) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of connections driven in parallel"))
	key = "pipeline"
	perfTestCmd.Flags().Int(key, 16, util.WrapString("Operations in flight per connection"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfPipeline = max(viper.GetInt("pipeline"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for kvbind servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Pipeline: %d\n", perfNumThreads, perfPipeline)
	fmt.Println()

	// Every thread gets its own engine and connection
	sessions := make([]*util.Session, 0, perfNumThreads)
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()
	for i := 0; i < perfNumThreads; i++ {
		s, err := util.OpenSession(completion.ConnectionBucket)
		if err != nil {
			return fmt.Errorf("failed to open connection %d: %w", i, err)
		}
		sessions = append(sessions, s)
	}

	fmt.Println("starting tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	tests := []perfTest{
		{name: "set", kind: completion.KindStore, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Store(cookie, engine.StoreCmd{Operation: completion.StoreSet, Key: key, Value: []byte("test")})
		}},
		{name: "set-large", kind: completion.KindStore, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Store(cookie, engine.StoreCmd{Operation: completion.StoreSet, Key: key, Value: largeValue})
		}},
		{name: "get", kind: completion.KindGet, prepare: true, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Get(cookie, engine.GetCmd{Key: key})
		}},
		{name: "get-miss", kind: completion.KindGet, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Get(cookie, engine.GetCmd{Key: key + "-missing"})
		}},
		{name: "incr", kind: completion.KindArithmetic, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Arithmetic(cookie, engine.ArithmeticCmd{Key: key, Delta: 1, Create: true})
		}},
		{name: "touch", kind: completion.KindTouch, prepare: true, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Touch(cookie, engine.TouchCmd{Key: key, Expiry: 3600})
		}},
		{name: "delete", kind: completion.KindRemove, prepare: true, issue: func(conn *binding.Connection, key string, _ int, cookie any) error {
			return conn.Remove(cookie, engine.RemoveCmd{Key: key})
		}},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range tests {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test.name) {
				return
			}
			keys := getKeys(test.name)
			if test.prepare {
				if err := seed(sessions, keys); err != nil {
					b.Fatalf("(%s) - error preparing keys: %v", test.name, err)
				}
			}
			b.Cleanup(func() {
				if err := cleanup(sessions, keys); err != nil {
					fmt.Printf("(%s) - error deleting keys: %v\n", test.name, err)
				}
			})

			timer := gometrics.GetOrRegisterTimer(test.name, perfRegistry)
			failures := gometrics.GetOrRegisterCounter(test.name+".failures", perfRegistry)

			b.ResetTimer()
			if err := drive(sessions, test, keys, b.N, timer, failures); err != nil {
				b.Fatalf("(%s) - error: %v", test.name, err)
			}
		})
		results[test.name] = result
		printResult(test.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// drive spreads n operations over the sessions. Each session runs on its own
// goroutine and reissues from its continuation until its share is done.
func drive(sessions []*util.Session, test perfTest, keys []string, n int, timer gometrics.Timer, failures gometrics.Counter) error {
	p := pool.New().WithErrors()
	share := n/len(sessions) + 1

	for _, s := range sessions {
		s := s // per-iteration copy (go1.21 loop semantics)
		p.Go(func() error {
			issued := 0
			var issueErr error

			issueNext := func() {
				key := keys[issued%len(keys)]
				if err := test.issue(s.Conn, key, issued, time.Now()); err != nil {
					issueErr = err
					return
				}
				issued++
			}

			err := s.Conn.SetCallback(test.kind, slots.ContinuationFunc(func(c completion.Completion) {
				timer.UpdateSince(c.Cookie.(time.Time))
				if !c.Status.OK() {
					failures.Inc(1)
				}
				if issued < share && issueErr == nil {
					issueNext()
				}
			}))
			if err != nil {
				return err
			}

			for i := 0; i < min(perfPipeline, share) && issueErr == nil; i++ {
				issueNext()
			}
			if err := s.Conn.Wait(context.Background()); err != nil {
				return err
			}
			return issueErr
		})
	}

	return p.Wait()
}

// seed sets every key to a small value
func seed(sessions []*util.Session, keys []string) error {
	return forEachKey(sessions, keys, func(conn *binding.Connection, key string) error {
		return conn.Store(nil, engine.StoreCmd{Operation: completion.StoreSet, Key: key, Value: []byte("0")})
	}, completion.KindStore)
}

// cleanup removes every key
func cleanup(sessions []*util.Session, keys []string) error {
	return forEachKey(sessions, keys, func(conn *binding.Connection, key string) error {
		return conn.Remove(nil, engine.RemoveCmd{Key: key})
	}, completion.KindRemove)
}

// forEachKey issues op for every key on the first session and waits
func forEachKey(sessions []*util.Session, keys []string, op func(conn *binding.Connection, key string) error, kind completion.Kind) error {
	s := sessions[0]
	if err := s.Conn.SetCallback(kind, slots.ContinuationFunc(func(completion.Completion) {})); err != nil {
		return err
	}
	for _, key := range keys {
		if err := op(s.Conn, key); err != nil {
			return err
		}
	}
	return s.Conn.Wait(context.Background())
}

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// creates an array of test keys
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20s%s\n", test, color.YellowString("skipped"))
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	timer := gometrics.GetOrRegisterTimer(test, perfRegistry).Snapshot()
	failures := gometrics.GetOrRegisterCounter(test+".failures", perfRegistry).Count()
	ps := timer.Percentiles([]float64{0.5, 0.99})

	line := fmt.Sprintf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s", test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]))
	if failures > 0 {
		fmt.Printf("%s\t%s\n", line, color.RedString("%d failed", failures))
		return
	}
	fmt.Println(line)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	config := util.GetClientConfig()

	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Failures", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Bucket", "Serializer", "Transport",
		"Threads", "Pipeline", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		timer := gometrics.GetOrRegisterTimer(test, perfRegistry).Snapshot()
		ps := timer.Percentiles([]float64{0.5, 0.99})
		failures := gometrics.GetOrRegisterCounter(test+".failures", perfRegistry).Count()

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			time.Duration(ps[0]).String(),
			time.Duration(ps[1]).String(),
			strconv.FormatInt(failures, 10),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("bucket"),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfPipeline),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

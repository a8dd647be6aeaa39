package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"pgwireproxy/executor"
	"pgwireproxy/rewrite"
	"pgwireproxy/server"
	"pgwireproxy/session"
)

func main() {
	fmt.Println("pgwireproxy concurrency test")
	fmt.Println("============================")

	port, shutdown := startServer()
	defer shutdown()

	fmt.Printf("Starting server on port %d...\n\n", port)

	passed, failed := 0, 0
	for _, sc := range []struct {
		name string
		fn   func(int) bool
	}{
		{"Setup", scenarioSetup},
		{"Concurrent reads", scenarioConcurrentReads},
		{"Reads during writes", scenarioReadsDuringWrites},
		{"Concurrent writes", scenarioConcurrentWrites},
	} {
		if sc.fn(port) {
			passed++
		} else {
			failed++
		}
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// startServer runs the protocol engine against the embedded in-memory
// executor rather than a live Spanner database, so this tool can drive
// real concurrent pgx traffic through the session state machine without
// any external dependency.
func startServer() (port int, shutdown func()) {
	tmpDir, err := os.MkdirTemp("", "conctest-*")
	if err != nil {
		fatalf("create temp dir: %v", err)
	}

	exec, err := executor.NewMemoryExecutor(tmpDir, false)
	if err != nil {
		os.RemoveAll(tmpDir)
		fatalf("open embedded engine: %v", err)
	}

	rewriter, err := rewrite.New(nil)
	if err != nil {
		fatalf("build rewriter: %v", err)
	}

	logger := zerolog.Nop()
	sessCfg := session.Config{ServerVersion: "conctest"}
	ln := server.New("127.0.0.1:0", exec, rewriter, sessCfg, logger)

	go func() {
		if err := ln.ListenAndServe(); err != nil {
			fatalf("server: %v", err)
		}
	}()

	// Wait for the listener to be ready.
	for i := 0; i < 100; i++ {
		if addr := ln.Addr(); addr != nil {
			port = addr.(*net.TCPAddr).Port
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if port == 0 {
		exec.Close()
		os.RemoveAll(tmpDir)
		fatalf("server did not start within 1s")
	}

	shutdown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ln.Shutdown(ctx)
		exec.Close()
		os.RemoveAll(tmpDir)
	}
	return port, shutdown
}

func connect(port int) *pgx.Conn {
	connStr := fmt.Sprintf("host=127.0.0.1 port=%d sslmode=disable", port)
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		fatalf("parse config: %v", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	conn, err := pgx.ConnectConfig(context.Background(), cfg)
	if err != nil {
		fatalf("connect: %v", err)
	}
	return conn
}

// runConcurrent opens a fresh connection per goroutine, runs fn on each,
// and reports how many of the n goroutines returned a non-nil error.
func runConcurrent(port, n int, fn func(*pgx.Conn) error) int64 {
	var wg sync.WaitGroup
	var errs atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := connect(port)
			defer conn.Close(context.Background())
			if err := fn(conn); err != nil {
				errs.Add(1)
			}
		}()
	}
	wg.Wait()
	return errs.Load()
}

const seedRows = 40

func scenarioSetup(port int) bool {
	start := time.Now()
	conn := connect(port)
	defer conn.Close(context.Background())

	if _, err := conn.Exec(context.Background(),
		"CREATE TABLE bench (id INTEGER PRIMARY KEY, label TEXT)"); err != nil {
		return fail("Setup", "create table: %v", err)
	}

	for i := 1; i <= seedRows; i++ {
		if _, err := conn.Exec(context.Background(),
			fmt.Sprintf("INSERT INTO bench VALUES (%d, 'seed-%d')", i, i)); err != nil {
			return fail("Setup", "insert row %d: %v", i, err)
		}
	}

	var n int64
	if err := conn.QueryRow(context.Background(), "SELECT COUNT(*) FROM bench").Scan(&n); err != nil {
		return fail("Setup", "count: %v", err)
	}
	if n != seedRows {
		return fail("Setup", "row count = %d, want %d", n, seedRows)
	}

	return pass("Setup", fmt.Sprintf("table created, %d rows seeded", seedRows), time.Since(start))
}

func scenarioConcurrentReads(port int) bool {
	start := time.Now()
	const readers = 8
	const iterations = 40

	errs := runConcurrent(port, readers, func(conn *pgx.Conn) error {
		for i := 0; i < iterations; i++ {
			rows, err := conn.Query(context.Background(), "SELECT * FROM bench")
			if err != nil {
				return err
			}
			got := 0
			for rows.Next() {
				got++
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			if got != seedRows {
				return fmt.Errorf("scanned %d rows, want %d", got, seedRows)
			}
		}
		return nil
	})

	if errs > 0 {
		return fail("Concurrent reads", "%d of %d readers hit an error", errs, readers)
	}
	return pass("Concurrent reads",
		fmt.Sprintf("%d readers x %d queries each, no errors", readers, iterations),
		time.Since(start))
}

// scenarioReadsDuringWrites inserts rows from a single writer while a pool
// of readers repeatedly samples COUNT(*), then checks that every sample
// falls inside the range the writer could have produced and that nothing
// was lost by the time the writer finishes.
func scenarioReadsDuringWrites(port int) bool {
	start := time.Now()
	const writeRows = 60
	const readers = 6
	const samplesPerReader = 30

	var wg sync.WaitGroup
	var writeErrs atomic.Int64
	counts := make(chan int64, readers*samplesPerReader)

	wg.Add(1)
	go func() {
		defer wg.Done()
		conn := connect(port)
		defer conn.Close(context.Background())
		for i := 1; i <= writeRows; i++ {
			id := seedRows + i
			if _, err := conn.Exec(context.Background(),
				fmt.Sprintf("INSERT INTO bench VALUES (%d, 'write-%d')", id, id)); err != nil {
				writeErrs.Add(1)
			}
		}
	}()

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := connect(port)
			defer conn.Close(context.Background())
			for i := 0; i < samplesPerReader; i++ {
				var n int64
				if err := conn.QueryRow(context.Background(), "SELECT COUNT(*) FROM bench").Scan(&n); err == nil {
					counts <- n
				}
			}
		}()
	}
	wg.Wait()
	close(counts)

	lo, hi := int64(-1), int64(-1)
	for n := range counts {
		if lo == -1 || n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}

	if writeErrs.Load() > 0 {
		return fail("Reads during writes", "%d insert errors", writeErrs.Load())
	}
	if lo < seedRows || hi > seedRows+writeRows {
		return fail("Reads during writes", "observed counts [%d..%d] outside [%d..%d]",
			lo, hi, seedRows, seedRows+writeRows)
	}

	conn := connect(port)
	defer conn.Close(context.Background())
	var final int64
	conn.QueryRow(context.Background(), "SELECT COUNT(*) FROM bench").Scan(&final)
	if final != seedRows+writeRows {
		return fail("Reads during writes", "final count = %d, want %d", final, seedRows+writeRows)
	}

	return pass("Reads during writes",
		fmt.Sprintf("%d rows inserted while sampling, observed range [%d..%d]", writeRows, lo, hi),
		time.Since(start))
}

// scenarioConcurrentWrites has several writers race to insert disjoint rows
// (ids handed out from a shared counter, not precomputed per-goroutine
// ranges) and checks the row count grows by exactly the expected amount.
func scenarioConcurrentWrites(port int) bool {
	start := time.Now()
	const writers = 6
	const rowsEach = 15

	setupConn := connect(port)
	var before int64
	setupConn.QueryRow(context.Background(), "SELECT COUNT(*) FROM bench").Scan(&before)
	setupConn.Close(context.Background())

	var nextID atomic.Int64
	nextID.Store(before + 1000)

	errs := runConcurrent(port, writers, func(conn *pgx.Conn) error {
		for i := 0; i < rowsEach; i++ {
			id := nextID.Add(1)
			if _, err := conn.Exec(context.Background(),
				fmt.Sprintf("INSERT INTO bench VALUES (%d, 'concurrent-%d')", id, id)); err != nil {
				return err
			}
		}
		return nil
	})

	if errs > 0 {
		return fail("Concurrent writes", "%d of %d writers hit an error", errs, writers)
	}

	conn := connect(port)
	defer conn.Close(context.Background())
	var after int64
	conn.QueryRow(context.Background(), "SELECT COUNT(*) FROM bench").Scan(&after)
	want := before + int64(writers*rowsEach)
	if after != want {
		return fail("Concurrent writes", "final count = %d, want %d", after, want)
	}

	return pass("Concurrent writes",
		fmt.Sprintf("%d writers x %d rows = %d inserts, final count %d",
			writers, rowsEach, writers*rowsEach, after),
		time.Since(start))
}

func pass(name, detail string, d time.Duration) bool {
	fmt.Printf("PASS  %-22s %s (%dms)\n", name, detail, d.Milliseconds())
	return true
}

func fail(name, format string, args ...any) bool {
	fmt.Printf("FAIL  %-22s %s\n", name, fmt.Sprintf(format, args...))
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "conctest: "+format+"\n", args...)
	os.Exit(1)
}

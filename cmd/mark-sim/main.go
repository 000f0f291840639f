// Soak test runner for the mark entity.
//
// This tool drives synthetic downlink/uplink TCP traffic and periodic
// radio-layer feedback reports through a single mark.Entity, watching
// for memory growth, NaN/Inf control-law outputs, and other anomalies
// over extended periods (up to 24 hours or more).
//
// Usage:
//
//	go run ./cmd/mark-sim -duration 24h
//	go run ./cmd/mark-sim -duration 1h  # shorter test
//
// Exposes pprof endpoint at :6060 for live profiling:
//
//	curl http://localhost:6060/debug/pprof/heap > heap.pprof
//	go tool pprof heap.pprof
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"net/http"
	_ "net/http/pprof" // Enable pprof endpoints
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ranmark/mark/internal/markcfg"
	"github.com/ranmark/mark/pkg/mark"
	"github.com/ranmark/mark/pkg/mark/wire"
)

const (
	packetSize            = 1200 // downlink SDU bytes
	packetIntervalMs      = 20   // 50 pps
	feedbackIntervalMs    = 60   // one radio feedback report per 3 packets
	statusIntervalMinutes = 5

	qfi = uint32(9)
	drb = uint32(1)
)

// simResult accumulates the run's pass/fail signal.
type simResult struct {
	Duration         time.Duration
	TotalDownlink    int
	TotalUplinkAcks  int
	FinalRWND        uint16
	PeakHeapMB       float64
	TotalGCCycles    uint32
	SuspiciousEvents int
	Status           string
}

func main() {
	duration := flag.Duration("duration", 24*time.Hour, "Test duration (e.g. 1h, 24h)")
	pprofPort := flag.Int("pprof-port", 6060, "Port for pprof HTTP server")
	flag.Parse()

	fmt.Printf("Mark Entity Soak Test Runner\n")
	fmt.Printf("=============================\n")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Pprof:    http://localhost:%d/debug/pprof/\n", *pprofPort)
	fmt.Printf("\n")

	go func() {
		addr := fmt.Sprintf(":%d", *pprofPort)
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Printf("Warning: pprof server failed: %v\n", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %v, shutting down gracefully...\n", sig)
		cancel()
	}()

	result := runSoakTest(ctx, *duration)
	printSummary(result)

	if result.Status == "PASS" {
		os.Exit(0)
	}
	os.Exit(1)
}

func runSoakTest(ctx context.Context, duration time.Duration) simResult {
	cfg := markcfg.Default()
	e := mark.NewEntity(cfg)
	e.AddDRB(drb, mark.RLCModeAM)
	e.AddMapping(qfi, drb)

	result := simResult{Status: "PASS"}

	var memStats runtime.MemStats
	var seq, ack uint32 = 1, 1
	var pdcpSN uint32

	startTime := time.Now()
	lastStatusTime := startTime
	statusInterval := time.Duration(statusIntervalMinutes) * time.Minute

	ticker := time.NewTicker(time.Duration(packetIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	feedbackTicker := time.NewTicker(time.Duration(feedbackIntervalMs) * time.Millisecond)
	defer feedbackTicker.Stop()

	fmt.Printf("[%s] Starting soak test...\n", formatDuration(0))

	for {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(startTime)
			return result

		case now := <-feedbackTicker.C:
			elapsed := now.Sub(startTime)
			if elapsed >= duration {
				result.Duration = elapsed
				return result
			}
			if pdcpSN > 0 {
				if err := e.HandleFeedback(mark.FeedbackReport{HighestTransmitted: pdcpSN - 1}, drb); err != nil {
					fmt.Printf("[%s] ERROR: feedback rejected: %v\n", formatDuration(elapsed), err)
					result.SuspiciousEvents++
					result.Status = "FAIL"
				}
			}

		case now := <-ticker.C:
			elapsed := now.Sub(startTime)
			if elapsed >= duration {
				result.Duration = elapsed
				return result
			}

			down := syntheticDownlink(seq, ack, packetSize-40)
			if _, err := e.HandleSDU(down, qfi); err != nil {
				fmt.Printf("[%s] ERROR: HandleSDU: %v\n", formatDuration(elapsed), err)
				result.SuspiciousEvents++
				result.Status = "FAIL"
				continue
			}
			result.TotalDownlink++
			pdcpSN++
			seq += uint32(packetSize - 40)

			up := syntheticUplinkAck(ack, seq)
			rewritten, err := e.HandlePDU(up, qfi)
			if err != nil {
				fmt.Printf("[%s] ERROR: HandlePDU: %v\n", formatDuration(elapsed), err)
				result.SuspiciousEvents++
				result.Status = "FAIL"
				continue
			}
			result.TotalUplinkAcks++
			ack++

			ip, err := wire.DecodeIPv4(rewritten)
			if err == nil {
				if tcp, err := wire.DecodeTCP(rewritten[ip.HeaderLen():]); err == nil {
					w := tcp.Window()
					result.FinalRWND = w
					if math.IsNaN(float64(w)) {
						fmt.Printf("[%s] ERROR: NaN RWND detected!\n", formatDuration(elapsed))
						result.SuspiciousEvents++
						result.Status = "FAIL"
					}
				}
			}

			if now.Sub(lastStatusTime) >= statusInterval {
				lastStatusTime = now
				runtime.ReadMemStats(&memStats)
				heapMB := float64(memStats.HeapAlloc) / (1024 * 1024)
				if heapMB > result.PeakHeapMB {
					result.PeakHeapMB = heapMB
				}
				result.TotalGCCycles = memStats.NumGC

				fmt.Printf("[%s] Downlink: %d, RWND: %d, HeapAlloc: %.2f MB, NumGC: %d\n",
					formatDuration(elapsed), result.TotalDownlink, result.FinalRWND, heapMB, memStats.NumGC)

				if heapMB > 100 {
					fmt.Printf("[%s] ERROR: memory limit exceeded: %.2f MB\n", formatDuration(elapsed), heapMB)
					result.Status = "FAIL"
				}
			}
		}
	}
}

// syntheticDownlink builds a classic ECN-capable downlink TCP segment
// from a fixed peer to a fixed UE address.
func syntheticDownlink(seq, ack uint32, payloadLen int) []byte {
	totalLen := 20 + 20 + payloadLen
	buf := make([]byte, totalLen)
	buf[0] = 0x45
	buf[1] = wire.ECNECT0
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	buf[8] = 64
	buf[9] = wire.ProtocolTCP
	copy(buf[12:16], []byte{93, 184, 216, 34})
	copy(buf[16:20], []byte{10, 0, 0, 1})

	tcp := buf[20:]
	binary.BigEndian.PutUint16(tcp[0:2], 443)
	binary.BigEndian.PutUint16(tcp[2:4], 52000)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = 5 << 4
	tcp[13] = wire.TCPFlagACK | wire.TCPFlagPSH

	ip, _ := wire.DecodeIPv4(buf)
	ip.RecomputeChecksum()
	return buf
}

// syntheticUplinkAck builds the matching uplink ACK carrying an AccECN
// option so the RWND/AccECN rewrite path gets exercised every cycle.
func syntheticUplinkAck(ack, seq uint32) []byte {
	tcpHdrLen := 20 + 12
	totalLen := 20 + tcpHdrLen
	buf := make([]byte, totalLen)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	buf[8] = 64
	buf[9] = wire.ProtocolTCP
	copy(buf[12:16], []byte{10, 0, 0, 1})
	copy(buf[16:20], []byte{93, 184, 216, 34})

	tcp := buf[20:]
	binary.BigEndian.PutUint16(tcp[0:2], 52000)
	binary.BigEndian.PutUint16(tcp[2:4], 443)
	binary.BigEndian.PutUint32(tcp[4:8], 1)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = uint8(tcpHdrLen/4) << 4
	tcp[13] = wire.TCPFlagACK
	opts := tcp[20:]
	opts[0] = wire.OptKindAccECN1
	opts[1] = 11
	opts[11] = wire.OptKindNOP

	ip, _ := wire.DecodeIPv4(buf)
	ip.RecomputeChecksum()
	tcpHdr, _ := wire.DecodeTCP(tcp)
	tcpHdr.RecomputeChecksum([4]byte{10, 0, 0, 1}, [4]byte{93, 184, 216, 34}, tcp)
	return buf
}

func printSummary(result simResult) {
	fmt.Printf("\n")
	fmt.Printf("Soak Test Complete\n")
	fmt.Printf("==================\n")
	fmt.Printf("Duration:          %v\n", result.Duration.Round(time.Second))
	fmt.Printf("Downlink packets:  %d\n", result.TotalDownlink)
	fmt.Printf("Uplink ACKs:       %d\n", result.TotalUplinkAcks)
	fmt.Printf("Final RWND:        %d\n", result.FinalRWND)
	fmt.Printf("Peak HeapAlloc:    %.2f MB\n", result.PeakHeapMB)
	fmt.Printf("Total GC cycles:   %d\n", result.TotalGCCycles)
	fmt.Printf("Suspicious events: %d\n", result.SuspiciousEvents)
	fmt.Printf("Status:            %s\n", result.Status)
	fmt.Printf("\n")

	fmt.Printf("Pass Criteria:\n")
	fmt.Printf("  - No panics:            %s\n", checkMark(true))
	fmt.Printf("  - Final RWND > 0:       %s\n", checkMark(result.FinalRWND > 0))
	fmt.Printf("  - Peak memory < 100 MB: %s\n", checkMark(result.PeakHeapMB < 100))
	fmt.Printf("  - No anomalies:         %s\n", checkMark(result.SuspiciousEvents == 0))
}

func formatDuration(d time.Duration) string {
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func checkMark(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c7sync/chat-server/loadtest/client"
	"github.com/c7sync/chat-server/loadtest/stats"
)

// pairResult tracks the outcome of a single messaging pair's lifecycle.
type pairResult struct {
	chatStarted  bool
	msgSent      int64
	msgRecv      int64
	endedCleanly bool
	startLatency time.Duration
}

// runChat implements the messaging lifecycle load test. Each simulated user
// pair goes through the complete flow: connect -> startConversation ->
// exchange textMessage events -> end. The user ids follow -user-prefix and
// must already exist in the directory (seed them before running).
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of user pairs for the messaging lifecycle")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	startTimeout := fs.Duration("start-timeout", 10*time.Second, "Timeout waiting for startChat")
	userPrefix := fs.String("user-prefix", "loadtest", "Prefix for generated user ids")
	metricsURL := fs.String("metrics-url", "http://localhost:9090/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	totalClients := *pairs * 2

	fmt.Printf("Chat test: %d pairs (%d clients) to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d, concurrency=%d)\n",
		*pairs, totalClients, *url, *rampUp, *chatDuration, *msgInterval, *msgSize, *concurrency)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	// Set up metrics scraper.
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	// Slice to track all open connections for cleanup. Index i holds the
	// client connected as "<prefix>-<i+1>"; nil means the connect failed.
	var mu sync.Mutex
	clients := make([]*client.Client, totalClients)

	interrupted := false

	// -----------------------------------------------------------------------
	// Phase 1 — Connect all users
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect all users ---")

	interval := *rampUp / time.Duration(totalClients)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	launched := 0
	for launched < totalClients {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
			launched = totalClients // Break the loop.
		case <-rampTicker.C:
			idx := launched
			launched++
			userID := fmt.Sprintf("%s-%d", *userPrefix, idx+1)
			wg.Add(1)
			sem <- struct{}{} // Acquire semaphore slot.

			go func() {
				defer wg.Done()
				defer func() { <-sem }() // Release semaphore slot.

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				c, err := client.New(connCtx, *url, userID)
				if err != nil {
					collector.AddError()
					return
				}

				m := c.GetMetrics()
				collector.AddConnect(m.ConnectLatency)

				mu.Lock()
				clients[idx] = c
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()

	rampElapsed := time.Since(rampStart)
	fmt.Printf("\nPhase 1 complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), totalClients,
		rampElapsed.Round(time.Millisecond), collector.ErrorCount())

	if interrupted {
		fmt.Println("Interrupted — skipping chat phases.")
		cleanup(clients, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2 + 3 — Start conversations, exchange messages, end
	// -----------------------------------------------------------------------
	fmt.Printf("\n--- Phase 2-3: Running %d messaging pairs ---\n", *pairs)

	var totalMsgSent atomic.Int64
	var totalMsgRecv atomic.Int64
	var activePairCount atomic.Int64
	var completedPairs atomic.Int64
	var errorCount atomic.Int64

	results := make([]pairResult, *pairs)

	var pairWg sync.WaitGroup

	// Generate message payload once (reused by all pairs).
	msgPayload := strings.Repeat("abcdefgh", (*msgSize/8)+1)
	msgPayload = msgPayload[:*msgSize]

	// Progress reporting every 5 seconds.
	chatProgressStop := make(chan struct{})
	var chatProgressWg sync.WaitGroup
	chatProgressWg.Add(1)
	go func() {
		defer chatProgressWg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] active: %d  completed: %d/%d  sent: %d  recv: %d  errors: %d\n",
					activePairCount.Load(), completedPairs.Load(), *pairs,
					totalMsgSent.Load(), totalMsgRecv.Load(), errorCount.Load())
			case <-chatProgressStop:
				return
			}
		}
	}()

	chatStart := time.Now()

	for i := 0; i < *pairs; i++ {
		i := i // capture loop variable
		mu.Lock()
		c1 := clients[i*2]
		c2 := clients[i*2+1]
		mu.Unlock()
		if c1 == nil || c2 == nil {
			completedPairs.Add(1)
			continue
		}

		pairWg.Add(1)
		go func() {
			defer pairWg.Done()

			// Stagger startConversation sends by 100ms between pairs.
			stagger := time.Duration(i) * 100 * time.Millisecond
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
				return
			}

			runPair(ctx, c1, c2, *chatDuration, *msgInterval, *startTimeout,
				msgPayload, collector, &results[i],
				&totalMsgSent, &totalMsgRecv, &activePairCount, &completedPairs, &errorCount)
		}()
	}

	// Wait for all pairs to complete.
	allDone := make(chan struct{})
	go func() {
		pairWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		// All pairs finished.
	case <-ctx.Done():
		fmt.Println("\nInterrupted — waiting for pairs to wind down...")
		<-allDone
	}

	close(chatProgressStop)
	chatProgressWg.Wait()

	chatElapsed := time.Since(chatStart)

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	var successfulChats, startedChats int
	var totalSent, totalRecv int64
	var totalStartLatency time.Duration

	for _, r := range results {
		if r.endedCleanly {
			successfulChats++
		}
		totalSent += r.msgSent
		totalRecv += r.msgRecv
		if r.chatStarted {
			startedChats++
			totalStartLatency += r.startLatency
		}
	}

	fmt.Printf("\n--- Chat Results ---\n")
	fmt.Printf("Successful chats:   %d / %d\n", successfulChats, *pairs)
	fmt.Printf("Conversations open: %d / %d\n", startedChats, *pairs)
	fmt.Printf("Total msg sent:     %d\n", totalSent)
	fmt.Printf("Total msg recv:     %d\n", totalRecv)
	fmt.Printf("Chat duration:      %s\n", chatElapsed.Round(time.Millisecond))
	if startedChats > 0 {
		avgStart := totalStartLatency / time.Duration(startedChats)
		fmt.Printf("Avg start latency:  %s\n", avgStart.Round(time.Millisecond))
	}
	if chatElapsed.Seconds() > 0 && totalSent > 0 {
		fmt.Printf("Msg throughput:     %.1f msg/s\n", float64(totalSent)/chatElapsed.Seconds())
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	cleanup(clients, &mu)
	scraper.Stop()
	collector.Report()
}

// runPair executes the messaging lifecycle for a pair of clients:
// startConversation -> exchange textMessage events -> end.
// It returns after the chat ends or the context is cancelled.
func runPair(
	ctx context.Context,
	c1, c2 *client.Client,
	chatDuration, msgInterval, startTimeout time.Duration,
	msgPayload string,
	collector *stats.Collector,
	result *pairResult,
	totalMsgSent, totalMsgRecv, activePairCount, completedPairs, errorCount *atomic.Int64,
) {
	defer completedPairs.Add(1)

	// --- Phase 2: Start the conversation ---

	startChatCh := make(chan string, 1)
	c1MsgRecv := make(chan struct{}, 100)
	c2MsgRecv := make(chan struct{}, 100)

	c1.On(client.TypeStartChat, func(raw json.RawMessage) {
		var msg struct {
			Conversation struct {
				ID string `json:"id"`
			} `json:"conversation"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil && msg.Conversation.ID != "" {
			select {
			case startChatCh <- msg.Conversation.ID:
			default:
			}
		}
	})

	c1.On(client.TypeNewMessage, func(raw json.RawMessage) {
		totalMsgRecv.Add(1)
		select {
		case c1MsgRecv <- struct{}{}:
		default:
		}
	})

	c2.On(client.TypeNewMessage, func(raw json.RawMessage) {
		totalMsgRecv.Add(1)
		select {
		case c2MsgRecv <- struct{}{}:
		default:
		}
	})

	startAt := time.Now()
	if err := c1.Send(map[string]string{
		"type": client.TypeStartConversation,
		"from": c1.UserID(),
		"to":   c2.UserID(),
	}); err != nil {
		errorCount.Add(1)
		collector.AddError()
		return
	}

	startCtx, startCancel := context.WithTimeout(ctx, startTimeout)
	defer startCancel()

	var conversationID string
	select {
	case conversationID = <-startChatCh:
	case <-startCtx.Done():
		errorCount.Add(1)
		collector.AddError()
		return
	}

	result.chatStarted = true
	result.startLatency = time.Since(startAt)

	// --- Phase 3: Exchange messages ---

	activePairCount.Add(1)
	defer activePairCount.Add(-1)

	chatCtx, chatCancel := context.WithTimeout(ctx, chatDuration)
	defer chatCancel()

	var c1LastSend atomic.Int64 // unix nanoseconds of last send
	var c2LastSend atomic.Int64

	sendLoop := func(from, to *client.Client, lastSend *atomic.Int64) {
		ticker := time.NewTicker(msgInterval)
		defer ticker.Stop()

		for {
			select {
			case <-chatCtx.Done():
				return
			case <-ticker.C:
				lastSend.Store(time.Now().UnixNano())
				if err := from.Send(map[string]string{
					"type":           client.TypeTextMessage,
					"from":           from.UserID(),
					"to":             to.UserID(),
					"conversationId": conversationID,
					"message":        msgPayload,
					"msgType":        "Text",
				}); err != nil {
					errorCount.Add(1)
					collector.AddError()
					return
				}
				totalMsgSent.Add(1)
				result.msgSent++
			}
		}
	}

	recvLoop := func(recvCh <-chan struct{}, lastSend *atomic.Int64) {
		for {
			select {
			case <-chatCtx.Done():
				return
			case <-recvCh:
				result.msgRecv++
				// Approximate latency: time since this side's last send.
				if ts := lastSend.Load(); ts > 0 {
					collector.AddMsgLatency(time.Since(time.Unix(0, ts)))
				}
			}
		}
	}

	var chatWg sync.WaitGroup
	chatWg.Add(4)
	go func() { defer chatWg.Done(); sendLoop(c1, c2, &c1LastSend) }()
	go func() { defer chatWg.Done(); sendLoop(c2, c1, &c2LastSend) }()
	go func() { defer chatWg.Done(); recvLoop(c1MsgRecv, &c1LastSend) }()
	go func() { defer chatWg.Done(); recvLoop(c2MsgRecv, &c2LastSend) }()
	chatWg.Wait()

	// --- Phase 4: End the sessions ---

	if err := c1.Send(map[string]string{
		"type":   client.TypeEnd,
		"userId": c1.UserID(),
	}); err == nil {
		result.endedCleanly = true
	} else {
		errorCount.Add(1)
		collector.AddError()
	}
	_ = c2.Send(map[string]string{
		"type":   client.TypeEnd,
		"userId": c2.UserID(),
	})
}

// cleanup closes every tracked connection.
func cleanup(clients []*client.Client, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range clients {
		if c != nil {
			c.Close()
		}
	}
}

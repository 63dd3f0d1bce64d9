package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cashmate/cashmate/client"
)

// watchedEvents is every event the daemon pushes to a connected user.
var watchedEvents = []string{
	"new-message",
	"message-sent",
	"messages-read",
	"user-online",
	"user-offline",
	"online-users",
	"user-typing",
	"connection-request",
	"connection-accepted",
	"request-sent",
	"error",
	"server-error",
	"message-error",
	"request-error",
	"accept-error",
}

func main() {
	addrFlag := flag.String("addr", "http://127.0.0.1:8080", "daemon base URL")
	userFlag := flag.String("user", "", "user ID to connect as")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "watch":
		cmdWatch(*addrFlag, *userFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: cashmatectl send <recipientId> <text>")
			os.Exit(1)
		}
		cmdSend(*addrFlag, *userFlag, args[1], args[2])
	case "online":
		cmdOnline(*addrFlag, *userFlag)
	case "requests":
		cmdRequests(*addrFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: cashmatectl [--addr <url>] [--user <id>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  watch                   Stream realtime events to stdout")
	fmt.Fprintln(os.Stderr, "  send <to> <text>        Send a chat message")
	fmt.Fprintln(os.Stderr, "  online                  List currently online users")
	fmt.Fprintln(os.Stderr, "  requests                List open cash requests")
}

func connect(addr, userID string) *client.Client {
	if userID == "" {
		fmt.Fprintln(os.Stderr, "error: --user is required for this command")
		os.Exit(1)
	}

	c := client.New(addr, userID, &client.Config{AutoReconnect: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon at %s: %v\n", addr, err)
		os.Exit(1)
	}
	return c
}

func cmdWatch(addr, userID string) {
	c := connect(addr, userID)
	defer func() { _ = c.Disconnect() }()

	for _, event := range watchedEvents {
		c.On(event, func(event string, payload json.RawMessage) {
			fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), event, payload)
		})
	}
	c.OnDisconnected(func(err error) {
		fmt.Fprintf(os.Stderr, "disconnected: %v\n", err)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func cmdSend(addr, userID, recipientID, text string) {
	c := connect(addr, userID)
	defer func() { _ = c.Disconnect() }()

	acked := make(chan client.MessageSent, 1)
	c.OnMessageSent(func(p client.MessageSent) {
		acked <- p
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.SendMessage(ctx, recipientID, text); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	select {
	case ack := <-acked:
		fmt.Printf("Message %s: %s\n", ack.MessageID, ack.Status)
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "error: no acknowledgement from daemon")
		os.Exit(1)
	}
}

func cmdOnline(addr, userID string) {
	c := connect(addr, userID)
	defer func() { _ = c.Disconnect() }()

	snapshot := make(chan client.OnlineUsers, 1)
	c.OnOnlineUsers(func(p client.OnlineUsers) {
		snapshot <- p
	})

	select {
	case s := <-snapshot:
		if len(s.Users) == 0 {
			fmt.Println("No users online.")
			return
		}
		for _, u := range s.Users {
			fmt.Println(u)
		}
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "error: no snapshot from daemon")
		os.Exit(1)
	}
}

func cmdRequests(addr string) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(addr + "/cash-requests")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string `json:"status"`
		Data   []struct {
			ID          string  `json:"id"`
			RequesterID string  `json:"requesterId"`
			Amount      float64 `json:"amount"`
			Reason      string  `json:"reason"`
			Status      string  `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(os.Stderr, "error: decode response: %v\n", err)
		os.Exit(1)
	}

	if len(body.Data) == 0 {
		fmt.Println("No open cash requests.")
		return
	}
	for _, r := range body.Data {
		fmt.Printf("%-36s %-10s %8.2f  %s (%s)\n", r.ID, r.Status, r.Amount, r.Reason, r.RequesterID)
	}
}

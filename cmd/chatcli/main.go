// Command chatcli is a terminal chat client. It wires the realtime
// connection, presence tracker, and chat router together with simple
// log-based render sinks, and drives them from stdin commands.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/beacon/chat-app/internal/chatrouter"
	"github.com/beacon/chat-app/internal/eventbus"
	"github.com/beacon/chat-app/internal/presence"
	"github.com/beacon/chat-app/internal/protocol"
	"github.com/beacon/chat-app/internal/realtime"
)

// consoleUI renders presence and routing decisions as log lines. It
// implements both presence.UI and chatrouter.View.
type consoleUI struct{}

func (consoleUI) UpdatePresenceBadge(userID, status string) {
	log.Printf("[presence] %s is %s", userID, status)
}

func (consoleUI) ShowTypingIndicator(chatID string, typingUsers []string) {
	if len(typingUsers) == 0 {
		log.Printf("[typing] %s: nobody is typing", chatID)
		return
	}
	log.Printf("[typing] %s: %s typing...", chatID, strings.Join(typingUsers, ", "))
}

func (consoleUI) RenderMessage(msg protocol.ChatMessageMsg) {
	if msg.System {
		log.Printf("[%s] * %s", msg.ChatID, msg.Content)
		return
	}
	log.Printf("[%s] <%s> %s", msg.ChatID, msg.SenderName, msg.Content)
}

func (consoleUI) UpdateChatList(msg protocol.ChatMessageMsg) {
	log.Printf("[chats] %s: last message from %s", msg.ChatID, msg.SenderName)
}

func (consoleUI) UpdateUnreadCount(chatID string, count int) {
	log.Printf("[chats] %s: %d unread", chatID, count)
}

func (consoleUI) ShowNotification(msg protocol.ChatMessageMsg) {
	log.Printf("[notify] new message in %s from %s", msg.ChatID, msg.SenderName)
}

func (consoleUI) UpsertChat(chat protocol.ChatInfo) {
	log.Printf("[chats] %s (%s) available", chat.Name, chat.ID)
}

func (consoleUI) RemoveChat(chatID string) {
	log.Printf("[chats] %s removed", chatID)
}

func (consoleUI) MarkRead(receipt protocol.ServerReadReceiptMsg) {
	log.Printf("[read] %s read up to %s in %s", receipt.UserID, receipt.MessageID, receipt.ChatID)
}

func (consoleUI) LeaveChatView(chatID string) {
	log.Printf("[chats] chat %s no longer exists, leaving view", chatID)
}

func main() {
	url := "ws://localhost:8080/ws"
	if v := os.Getenv("WS_URL"); v != "" {
		url = v
	}
	token := os.Getenv("AUTH_TOKEN")

	config := realtime.DefaultConfig()
	config.URL = url
	config.Debug = os.Getenv("DEBUG") != ""

	bus := eventbus.New()
	conn := realtime.New(config, bus)
	if token != "" {
		conn.SetToken(token)
	}

	ui := consoleUI{}

	tracker, err := presence.New(presence.Config{}, bus, conn, ui)
	if err != nil {
		log.Fatalf("presence tracker: %v", err)
	}
	defer tracker.Close()

	router, err := chatrouter.New(bus, conn, ui)
	if err != nil {
		log.Fatalf("chat router: %v", err)
	}
	defer router.Close()

	// Surface connection lifecycle on the console.
	bus.Subscribe(eventbus.TopicStateChanged, func(data interface{}) {
		change, ok := data.(realtime.StateChange)
		if !ok {
			return
		}
		if change.HasLatency {
			log.Printf("[conn] %s (latency %s)", change.Current, change.Latency)
			return
		}
		log.Printf("[conn] %s -> %s", change.Previous, change.Current)
	})
	bus.Subscribe(eventbus.TopicAuthenticated, func(data interface{}) {
		if auth, ok := data.(realtime.Authenticated); ok {
			log.Printf("[conn] authenticated as %s", auth.UserID)
		}
	})
	bus.Subscribe(eventbus.TopicAuthError, func(data interface{}) {
		if authErr, ok := data.(realtime.AuthError); ok {
			log.Printf("[conn] authentication failed: %s", authErr.Reason)
		}
	})
	bus.Subscribe(eventbus.TopicConnError, func(data interface{}) {
		connErr, ok := data.(realtime.ConnError)
		if !ok {
			return
		}
		if connErr.Terminal {
			log.Printf("[conn] gave up after %d attempts; type /reconnect to retry", connErr.Attempt)
			return
		}
		log.Printf("[conn] attempt %d failed: %v", connErr.Attempt, connErr.Err)
	})

	if err := conn.Connect(); err != nil {
		log.Printf("[conn] initial connect: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Disconnect()
		os.Exit(0)
	}()

	fmt.Println("commands: /join <chat>, /close <chat>, /typing <chat> on|off, /read <chat> <msg-id>, /reconnect, /quit")
	fmt.Println("anything else is sent as a message to the focused chat")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			chatID := router.CurrentChat()
			if chatID == "" {
				fmt.Println("no chat focused; /join one first")
				continue
			}
			if queued, err := router.SendChatMessage(chatID, line); err != nil {
				log.Printf("send failed: %v", err)
			} else if queued {
				fmt.Println("(offline, message queued)")
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/join":
			if len(fields) != 2 {
				fmt.Println("usage: /join <chat>")
				continue
			}
			router.SetCurrentChat(fields[1])

		case "/close":
			if len(fields) != 2 {
				fmt.Println("usage: /close <chat>")
				continue
			}
			router.CloseChat(fields[1])

		case "/typing":
			if len(fields) != 3 || (fields[2] != "on" && fields[2] != "off") {
				fmt.Println("usage: /typing <chat> on|off")
				continue
			}
			if !tracker.SendTypingStatus(fields[1], fields[2] == "on") {
				fmt.Println("(offline, typing signal dropped)")
			}

		case "/read":
			if len(fields) != 3 {
				fmt.Println("usage: /read <chat> <msg-id>")
				continue
			}
			if _, err := router.SendReadReceipt(fields[1], fields[2]); err != nil {
				log.Printf("read receipt failed: %v", err)
			}

		case "/reconnect":
			if err := conn.Reconnect(); err != nil {
				log.Printf("reconnect failed: %v", err)
			}

		case "/quit":
			conn.Disconnect()
			return

		default:
			fmt.Printf("unknown command %s\n", fields[0])
		}
	}
}

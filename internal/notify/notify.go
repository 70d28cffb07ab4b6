// Package notify sends backup failure alerts to a Telegram chat.
//
// It is send-only: the bot never polls for updates, it just posts an alert
// whenever a backup.failed event crosses the bus.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"flowwatch/internal/eventbus"
	logx "flowwatch/pkg/logx"
)

type Config struct {
	Enabled bool
	Token   string
	ChatID  int64
}

// sender is the slice of tele.Bot the notifier uses; narrowed so tests can
// substitute a fake.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Notifier struct {
	cfg  Config
	bot  sender
	bus  eventbus.Bus
	log  logx.Logger
	stop func()
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: create bot: %w", err)
	}
	return &Notifier{cfg: cfg, bot: bot, bus: bus, log: log}, nil
}

// Start subscribes to the bus and begins forwarding failure events.
// Safe to call on a nil Notifier (notifications disabled).
func (n *Notifier) Start(ctx context.Context) {
	if n == nil || n.bus == nil {
		return
	}
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	ch, unsub := n.bus.Subscribe(32)
	n.stop = unsub
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if e.Type != eventbus.TypeBackupFailed {
					continue
				}
				be, ok := e.Data.(eventbus.BackupEvent)
				if !ok {
					continue
				}
				n.alert(be)
			}
		}
	}()
}

// Stop unsubscribes and waits for the forwarding goroutine to drain.
func (n *Notifier) Stop() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	stop := n.stop
	n.mu.Unlock()

	if stop != nil {
		stop()
	}
	n.wg.Wait()
}

func (n *Notifier) alert(be eventbus.BackupEvent) {
	trigger := "scheduled"
	if be.Manual {
		trigger = "manual"
	}
	text := fmt.Sprintf("⚠️ Backup failed\nConnector: %s\nStage: %s\nTrigger: %s\nError: %s",
		be.Connector, be.Stage, trigger, be.Error)
	if _, err := n.bot.Send(tele.ChatID(n.cfg.ChatID), text); err != nil {
		n.log.Warn("failure alert not delivered",
			logx.String("connector", be.Connector), logx.Err(err))
	}
}

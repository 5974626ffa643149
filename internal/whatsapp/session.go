// Package whatsapp adapts go.mau.fi/whatsmeow to the narrow session
// surface the lifecycle manager depends on.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"github.com/waygate/bridge/internal/lifecycle"

	// SQLite driver for the whatsmeow session store.
	_ "github.com/mattn/go-sqlite3"
)

// FactoryConfig holds configuration for the session factory.
type FactoryConfig struct {
	Credentials *CredentialStore
	Logger      *zap.Logger
	// QRInTerminal additionally renders pairing codes on stderr, for
	// development.
	QRInTerminal bool
}

// Factory builds whatsmeow-backed sessions.
type Factory struct {
	creds        *CredentialStore
	logger       *zap.Logger
	qrInTerminal bool
}

// NewFactory creates a session factory.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Factory{
		creds:        cfg.Credentials,
		logger:       cfg.Logger,
		qrInTerminal: cfg.QRInTerminal,
	}, nil
}

// NewSession opens the credential store, loads the device, and returns
// a session with event handlers registered. It does not connect.
func (f *Factory) NewSession(ctx context.Context, sink lifecycle.Events) (lifecycle.Session, error) {
	if err := f.creds.Ensure(); err != nil {
		return nil, err
	}

	container, err := sqlstore.New(ctx, "sqlite3", f.creds.DSN(), waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	// The lifecycle manager owns the reconnect policy.
	client.EnableAutoReconnect = false

	s := &Session{
		client:       client,
		container:    container,
		sink:         sink,
		logger:       f.logger,
		qrInTerminal: f.qrInTerminal,
	}
	client.AddEventHandler(s.handleEvent)
	return s, nil
}

// Session wraps one whatsmeow client plus its backing store.
type Session struct {
	client       *whatsmeow.Client
	container    *sqlstore.Container
	sink         lifecycle.Events
	logger       *zap.Logger
	qrInTerminal bool
	closeOnce    sync.Once
}

// Connect dials WhatsApp. An unpaired device goes through the QR
// channel; pairing codes are forwarded to the sink as they refresh.
func (s *Session) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go s.watchQR(qrChan)
		return nil
	}

	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (s *Session) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			if s.qrInTerminal {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stderr)
			}
			s.sink.QRReceived(item.Code)
		case "success":
			// The Connected event carries the identity.
			s.logger.Info("qr code scanned")
		case "timeout":
			s.logger.Warn("qr pairing timed out before scan")
			s.sink.Closed(lifecycle.CloseReason{Description: "qr pairing timeout"})
			return
		default:
			s.logger.Debug("qr channel event", zap.String("event", item.Event))
		}
	}
}

func (s *Session) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		s.logger.Info("device paired", zap.String("jid", v.ID.String()))

	case *events.Connected:
		s.sink.Opened(s.identity())

	case *events.LoggedOut:
		s.sink.Closed(lifecycle.CloseReason{
			Description: fmt.Sprintf("logged out by remote (%s)", v.Reason),
			LoggedOut:   true,
		})

	case *events.StreamReplaced:
		s.sink.Closed(lifecycle.CloseReason{Description: "stream replaced by another client"})

	case *events.ConnectFailure:
		s.sink.Closed(lifecycle.CloseReason{
			Description: fmt.Sprintf("connect failure (%s)", v.Reason),
			LoggedOut:   v.Reason == events.ConnectFailureLoggedOut,
		})

	case *events.Disconnected:
		s.sink.Closed(lifecycle.CloseReason{Description: "socket disconnected"})

	default:
		s.logger.Debug("unhandled event", zap.String("type", fmt.Sprintf("%T", v)))
	}
}

func (s *Session) identity() lifecycle.Identity {
	id := lifecycle.Identity{DisplayName: s.client.Store.PushName}
	if s.client.Store.ID != nil {
		id.ID = s.client.Store.ID.String()
	}
	return id
}

// Logout gracefully terminates the remote session.
func (s *Session) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

// Close disconnects the client and releases the session store so the
// credential directory can be deleted safely afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.client.Disconnect()
		if err := s.container.Close(); err != nil {
			s.logger.Warn("close session store", zap.Error(err))
		}
	})
}

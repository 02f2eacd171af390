package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/codedrop/internal/config"
	"github.com/BioHazard786/codedrop/internal/negotiator"
	"github.com/BioHazard786/codedrop/internal/relay"
	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/session"
	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/BioHazard786/codedrop/internal/ui"
	"github.com/spf13/cobra"
)

const defaultRetries = 2

var errCancelled = errors.New("cancelled")

// connFlags are shared by send and receive.
type connFlags struct {
	relayURL   string
	stun       []string
	turn       string
	turnUser   string
	turnPass   string
	forceRelay bool
	ttl        time.Duration
	retries    int
}

func (f *connFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.relayURL, "relay", "", "Relay websocket URL")
	fs.StringSliceVarP(&f.stun, "stun", "s", nil, "STUN server(s)")
	fs.StringVarP(&f.turn, "turn", "t", "", "TURN server host")
	fs.StringVar(&f.turnUser, "turn-user", "", "TURN username")
	fs.StringVar(&f.turnPass, "turn-pass", "", "TURN password")
	fs.BoolVar(&f.forceRelay, "force-relay", false, "Only use TURN relayed candidates")
	fs.DurationVar(&f.ttl, "ttl", 0, "Room lifetime (default 5m)")
	fs.IntVar(&f.retries, "retries", defaultRetries, "Fresh sessions to try after a lost connection")
}

func (f *connFlags) load() (*config.Config, error) {
	return LoadConfig(config.Options{
		ConfigFile:  flagConfig,
		RelayURL:    f.relayURL,
		STUNServers: f.stun,
		TURNServer:  f.turn,
		TURNUser:    f.turnUser,
		TURNPass:    f.turnPass,
		ForceRelay:  f.forceRelay,
		RoomTTL:     f.ttl,
	})
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}
	if cfg.ForceRelay && cfg.TURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

func dialRelay(ctx context.Context, cfg *config.Config) (relay.Client, error) {
	stop := ui.RunConnectionSpinner("Connecting to relay...")
	defer stop()

	client, err := relay.Dial(ctx, cfg.RelayURL, logger)
	if err != nil {
		return nil, transfer.NewError("connect to relay", err)
	}
	return client, nil
}

// attempt is one session's worth of work once the channel is open. quit
// ends the whole command, not just this session.
type attempt func(ctx context.Context, s *session.Session, ch *transfer.DataChannel, quit func()) error

// runSessions opens sessions until work succeeds, a non-retryable error
// occurs, or retries are used up. Every failure is followed by a full
// Close before the next session is created.
func runSessions(ctx context.Context, cfg *config.Config, rc relay.Client, role room.Role, code string, retries int, work attempt) error {
	for try := 0; ; try++ {
		err := runSession(ctx, cfg, rc, role, code, work)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) || try >= retries {
			return err
		}
		ui.PrintWarningf("%s, retrying (%d/%d)", describe(err), try+1, retries)
	}
}

func runSession(ctx context.Context, cfg *config.Config, rc relay.Client, role room.Role, code string, work attempt) error {
	var joining *ui.Spinner
	if role == room.Responder {
		joining = ui.NewConnectionSpinner(fmt.Sprintf("Joining room %s...", code))
	}

	s, err := session.New(session.Options{
		Role:   role,
		Code:   code,
		TTL:    cfg.RoomTTL.Duration,
		Relay:  rc,
		WebRTC: negotiator.PeerConfiguration(cfg),
		Logger: logger,
		OnState: func(st negotiator.State) {
			logger.Debug("negotiation", "state", st)
			if joining != nil && st == negotiator.IceExchange {
				joining.SetMessage("Connecting to peer...")
			}
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	quit := func() { cancel(errCancelled) }
	s.Start(ctx)

	var (
		ch      *transfer.DataChannel
		waitErr error
		ready   = make(chan struct{})
	)
	go func() {
		ch, waitErr = s.WaitReady(ctx)
		close(ready)
	}()

	if joining != nil {
		joining.Start()
	} else {
		ui.WaitForPeer(ctx, s.Code(), "Waiting for receiver to join...", s.Room.Remaining, ready, quit)
	}
	<-ready
	if errors.Is(context.Cause(ctx), errCancelled) {
		if joining != nil {
			joining.Stop()
		}
		return errCancelled
	}
	if waitErr != nil {
		if joining != nil {
			joining.Error(fmt.Sprintf("Could not join room %s", s.Code()))
		}
		return waitErr
	}
	if joining != nil {
		joining.Success(fmt.Sprintf("Connected to room %s", s.Code()))
	}

	err = work(ctx, s, ch, quit)
	if errors.Is(context.Cause(ctx), errCancelled) {
		return errCancelled
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, session.ErrConnectionFailed) ||
		errors.Is(err, transfer.ErrTransferAborted) ||
		errors.Is(err, transfer.ErrBufferTimeout) ||
		errors.Is(err, room.ErrRoomExpired)
}

func describe(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomExpired):
		return "room expired"
	case errors.Is(err, session.ErrConnectionFailed):
		return "could not reach peer"
	default:
		return "connection lost"
	}
}

/*
Package main is a headless meeting participant. It signs in, joins a meeting,
and negotiates media with every other participant using sample-based tracks.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"meetline/internal/app/apiclient"
	"meetline/internal/app/coordinator"
	"meetline/internal/app/peer"
	sig "meetline/internal/app/signal"
	"meetline/internal/app/user"
	"meetline/internal/pkg/logx"
)

type options struct {
	server          string
	email           string
	password        string
	name            string
	register        bool
	create          string
	meetingID       string
	meetingPassword string
	shareScreen     bool
	chat            string
	verbose         bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("meetline-client", flag.ContinueOnError)
	fs.StringVar(&o.server, "server", "http://localhost:8080", "server base URL")
	fs.StringVar(&o.email, "email", "", "account email")
	fs.StringVar(&o.password, "password", "", "account password")
	fs.StringVar(&o.name, "name", "", "display name (register and join)")
	fs.BoolVar(&o.register, "register", false, "register the account before joining")
	fs.StringVar(&o.create, "create", "", "create a public meeting with this name and join it")
	fs.StringVar(&o.meetingID, "meeting", "", "meeting id to join")
	fs.StringVar(&o.meetingPassword, "meeting-password", "", "meeting password")
	fs.BoolVar(&o.shareScreen, "share-screen", false, "send the screen track instead of the camera")
	fs.StringVar(&o.chat, "chat", "", "chat message to send after joining")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.email == "" || o.password == "" {
		return o, errors.New("-email and -password are required")
	}
	if o.meetingID == "" && o.create == "" {
		return o, errors.New("one of -meeting or -create is required")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logx.InitGlobalLogger(opts.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		logx.Fatal(err, "Client stopped")
	}
}

func run(ctx context.Context, opts options) error {
	log := logx.Component("client")

	api, err := apiclient.New(opts.server)
	if err != nil {
		return err
	}

	var me user.User
	if opts.register {
		me, err = api.Register(ctx, opts.name, opts.email, opts.password)
	} else {
		me, err = api.Login(ctx, opts.email, opts.password)
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	name := opts.name
	if name == "" {
		name = me.Name
	}

	meetingID := opts.meetingID
	if opts.create != "" {
		view, err := api.CreateMeeting(ctx, apiclient.CreateMeetingRequest{Name: opts.create, IsPublic: true, HostName: name})
		if err != nil {
			return fmt.Errorf("create meeting: %w", err)
		}
		meetingID = view.Meeting.ID
		log.Info().Str("meeting_id", meetingID).Str("link", view.Link).Msg("Meeting created")
	}

	channel, err := api.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	defer channel.Close()

	orch := peer.New(peer.Options{
		Self:      me.ID,
		MeetingID: meetingID,
		Factory:   peer.NewPionFactory(peer.DefaultConfiguration()),
		Signaler:  channel,
		Media:     peer.StaticSource{StreamID: me.ID},
		OnTrack: func(remoteID string, t peer.RemoteTrack) {
			log.Info().Str("remote_id", remoteID).Str("kind", t.Kind().String()).Msg("Remote track received")
		},
		Logger: *logx.Logger(),
	})
	defer orch.Close()
	if err := orch.Start(ctx); err != nil {
		return err
	}

	coord := coordinator.New(api, channel, *logx.Logger())
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := coord.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Leave on shutdown failed")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &dispatcher{meetingID: meetingID, self: me.ID, orch: orch, coord: coord, log: log, ended: cancel}
	runErr := make(chan error, 1)
	go func() { runErr <- channel.Run(ctx, d.handle) }()

	res, err := coord.Join(ctx, meetingID, name, opts.meetingPassword)
	if err != nil {
		return fmt.Errorf("join meeting: %w", err)
	}
	if res.Simulated {
		log.Warn().Str("meeting_id", meetingID).Msg("Server unreachable, running in a local room")
	} else {
		log.Info().Str("meeting_id", meetingID).Int("participants", len(res.Roster)).Msg("Joined meeting")
	}

	if opts.shareScreen {
		if _, err := orch.ToggleScreenShare(ctx); err != nil {
			log.Warn().Err(err).Msg("Screen share failed")
		}
	}
	if opts.chat != "" {
		if err := channel.Chat(meetingID, opts.chat, name); err != nil {
			log.Warn().Err(err).Msg("Chat failed")
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-runErr:
		if errors.Is(err, apiclient.ErrClosed) {
			return nil
		}
		return err
	}
}

// dispatcher applies signaling frames to the coordinator and orchestrator.
type dispatcher struct {
	meetingID string
	self      string
	orch      *peer.Orchestrator
	coord     *coordinator.Coordinator
	log       zerolog.Logger
	ended     func()
}

func (d *dispatcher) handle(f sig.Frame) {
	ctx := context.Background()

	switch f.Event {
	case sig.EventParticipantJoined, sig.EventParticipantLeft, sig.EventSignal:
		var env sig.Envelope
		if err := f.Bind(&env); err != nil {
			d.log.Warn().Err(err).Str("event", string(f.Event)).Msg("Malformed frame")
			return
		}
		if f.Event == sig.EventParticipantLeft && d.removedSelf(env) {
			d.log.Info().Str("meeting_id", d.meetingID).Msg("Removed from meeting")
			d.stop()
			return
		}
		if err := d.orch.HandleSignal(ctx, env); err != nil {
			d.log.Warn().Err(err).Str("type", string(env.Type)).Str("from", env.From).Msg("Signal failed")
		}

	case sig.EventJoined:
		var data sig.JoinedData
		if err := f.Bind(&data); err == nil {
			d.log.Info().Int("connected", len(data.Participants)).Msg("Subscribed to meeting")
		}

	case sig.EventChat:
		var data sig.ChatData
		if err := f.Bind(&data); err == nil {
			d.log.Info().Str("from", data.ParticipantName).Str("message", data.Message).Msg("Chat")
		}

	case sig.EventMeetingEnded:
		d.log.Info().Str("meeting_id", d.meetingID).Msg("Meeting ended by host")
		d.stop()

	case sig.EventError:
		var data sig.ErrorData
		if err := f.Bind(&data); err == nil {
			d.log.Warn().Int("code", data.Code).Str("event", string(data.Event)).Msg(data.Message)
		}
	}
}

// removedSelf reports whether env announces that this participant was removed.
func (d *dispatcher) removedSelf(env sig.Envelope) bool {
	if env.MeetingID != d.meetingID {
		return false
	}
	p, err := env.Presence()
	return err == nil && p.ParticipantID == d.self
}

func (d *dispatcher) stop() {
	d.coord.MeetingEnded(d.meetingID)
	d.orch.Close()
	d.ended()
}

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagJoinRoom        string
	flagJoinParticipant string
	flagJoinCodec       string
	flagJoinSTUN        []string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and receive every published track",
	Long: `Join a room as a receive-only peer. Every producer in the room is consumed
and the packet rate of each incoming track is logged until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return joinRoom(ctx)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagJoinRoom, "room", "r", "", "Room to join")
	joinCmd.Flags().StringVarP(&flagJoinParticipant, "participant", "p", "", "Participant id (generated when empty)")
	joinCmd.Flags().StringVar(&flagJoinCodec, "codec", "json", "Signaling codec: json or msgpack")
	joinCmd.Flags().StringSliceVar(&flagJoinSTUN, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	_ = joinCmd.MarkFlagRequired("room")
}

func joinRoom(ctx context.Context) error {
	codec, err := protocol.CodecByName(flagJoinCodec)
	if err != nil {
		return err
	}
	cfg := rtc.DefaultConfig()
	cfg.STUNURLs = flagJoinSTUN
	device, err := rtc.NewDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()
	device.OnTrack(func(consumerID string, track *webrtc.TrackRemote) {
		go logTrack(ctx, consumerID, track)
	})

	u, err := client.SignalURL(flagServer, flagJoinRoom, flagJoinParticipant, codec)
	if err != nil {
		return err
	}
	ch, err := client.Dial(ctx, u, codec)
	if err != nil {
		return err
	}
	defer ch.Close()

	coord := client.New(ch, device, client.Options{Participant: flagJoinParticipant})
	err = coord.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logTrack(ctx context.Context, consumerID string, track *webrtc.TrackRemote) {
	logger := log.With().
		Str("consumer", consumerID).
		Str("kind", track.Kind().String()).
		Str("codec", track.Codec().MimeType).
		Logger()
	packets := make(chan int, 64)
	go func() {
		defer close(packets)
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			packets <- len(pkt.Payload)
		}
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	count, bytes := 0, 0
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-packets:
			if !ok {
				logger.Info().Int("packets", count).Msg("track ended")
				return
			}
			count++
			bytes += n
		case <-ticker.C:
			logger.Info().Int("packets", count).Int("bytes", bytes).Msg("receiving")
			count, bytes = 0, 0
		}
	}
}

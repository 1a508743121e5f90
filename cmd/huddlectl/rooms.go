package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rooms, err := fetchRooms(cmd.Context(), flagServer)
		if err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), rooms)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}

func fetchRooms(ctx context.Context, server string) ([]core.RoomInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(server, "/")+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: %s", resp.Status)
	}
	var body struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

func renderRooms(out io.Writer, rooms []core.RoomInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "Peers", "Producers"})
	peers, producers := 0, 0
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.PeerCount, r.ProducerCount})
		peers += r.PeerCount
		producers += r.ProducerCount
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rooms", len(rooms)), peers, producers})
	t.Render()
}

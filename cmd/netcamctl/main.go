// Command netcamctl is a small UDP/HTTP test client for netcamd, grounded
// on cmd/testclient/main.go's shape (dial once, send one request, print the
// reply, exit) generalized from a single gRPC call to cobra subcommands
// over netcamd's UDP control protocol and HTTP status surface.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagUDPAddr  string
	flagHTTPAddr string
)

type wireCommand struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type wireReply struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func sendUDPCommand(cmd wireCommand) (wireReply, error) {
	raddr, err := net.ResolveUDPAddr("udp", flagUDPAddr)
	if err != nil {
		return wireReply{}, fmt.Errorf("resolve %s: %w", flagUDPAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return wireReply{}, fmt.Errorf("dial %s: %w", flagUDPAddr, err)
	}
	defer conn.Close()

	out, err := json.Marshal(cmd)
	if err != nil {
		return wireReply{}, err
	}
	if _, err := conn.Write(out); err != nil {
		return wireReply{}, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return wireReply{}, fmt.Errorf("no reply from %s: %w", flagUDPAddr, err)
	}
	var reply wireReply
	if err := json.Unmarshal(buf[:n], &reply); err != nil {
		return wireReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{Use: "netcamctl", Short: "Exercise netcamd's control plane"}
	root.PersistentFlags().StringVar(&flagUDPAddr, "udp-addr", "127.0.0.1:9000", "netcamd UDP control address")
	root.PersistentFlags().StringVar(&flagHTTPAddr, "http-addr", "http://127.0.0.1:8080", "netcamd HTTP base URL")

	root.AddCommand(newStatusCmd())
	root.AddCommand(newModeCmd())
	root.AddCommand(newModelCmd())
	root.AddCommand(newRecordCmd())
	return root
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print netcamd's current status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(strings.TrimRight(flagHTTPAddr, "/") + "/api/status")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [parallel|serial]",
		Short: "Switch the active pipeline mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sendUDPCommand(wireCommand{Type: "mode_switch", Payload: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", reply.Type, reply.Payload)
			return nil
		},
	}
}

func newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model [yolov5|retinaface|none]",
		Short: "Switch the active detector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sendUDPCommand(wireCommand{Type: "model_switch", Payload: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", reply.Type, reply.Payload)
			return nil
		},
	}
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "record", Short: "Set or clear netcamd's recording flag"}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Send record_start (sets the recording flag)",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sendUDPCommand(wireCommand{Type: "record_start"})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", reply.Type, reply.Payload)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Send record_stop (clears the recording flag)",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sendUDPCommand(wireCommand{Type: "record_stop"})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", reply.Type, reply.Payload)
			return nil
		},
	})
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rolling-glass/looking-glass/pkg/protocol"
)

type statusReply struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Description *struct {
		Text string `json:"text"`
	} `json:"description,omitempty"`
}

type chatMessage struct {
	Text string `json:"text"`
}

var pingCmd = &cobra.Command{
	Use:   "ping ADDRESS",
	Short: "Asks a server for its status or tries to log in",
	Long: `Performs the server list ping against ADDRESS (host:port) and prints the reported brand and latency.
With --login the probe attempts a login instead and prints the disconnect message.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		username, err := flags.GetString("login")
		if err != nil {
			return err
		}

		protocolNum, err := flags.GetInt32("protocol")
		if err != nil {
			return err
		}

		timeout, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		out := cmd.OutOrStdout()
		address := args[0]

		if username != "" {
			printTask(out, fmt.Sprintf("Logging in to %s as %s", address, username))
			message, err := probeLogin(ctx, address, protocolNum, username)
			if err != nil {
				return err
			}

			printSubtask(out, message)
			return nil
		}

		printTask(out, fmt.Sprintf("Pinging %s", address))
		reply, latency, err := probeStatus(ctx, address, protocolNum)
		if err != nil {
			return err
		}

		printSubtask(out, fmt.Sprintf("Brand: %s", reply.Version.Name))
		printSubtask(out, fmt.Sprintf("Protocol: %d (%s)", reply.Version.Protocol, protocol.VersionName(reply.Version.Protocol)))
		if reply.Description != nil {
			printSubtask(out, fmt.Sprintf("MOTD: %s", reply.Description.Text))
		}
		printSubtask(out, fmt.Sprintf("Latency: %s", latency.Round(time.Microsecond)))
		return nil
	},
}

func init() {
	pingCmd.Flags().String("login", "", "attempt a login with this username instead of a status ping")
	pingCmd.Flags().Int32("protocol", protocol.Latest(), "protocol number to announce in the handshake")
	pingCmd.Flags().Duration("timeout", 5*time.Second, "time limit for the whole exchange")

	rootCmd.AddCommand(pingCmd)
}

// dialServer connects to address and sends the handshake for the given intent
func dialServer(ctx context.Context, address string, protocolNum int32, intent protocol.Intent) (net.Conn, *bufio.Reader, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "invalid address %s", address)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "invalid port %s", portStr)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to connect to %s", address)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err = conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, nil, eris.Wrap(err, "failed to set deadline")
		}
	}

	handshake := protocol.AppendHandshake(nil, protocol.Handshake{
		Protocol: protocolNum,
		Address:  host,
		Port:     uint16(port),
		Intent:   intent,
	})
	if _, err = conn.Write(handshake); err != nil {
		conn.Close()
		return nil, nil, eris.Wrap(err, "failed to send handshake")
	}

	return conn, bufio.NewReader(conn), nil
}

func probeStatus(ctx context.Context, address string, protocolNum int32) (statusReply, time.Duration, error) {
	var reply statusReply

	conn, r, err := dialServer(ctx, address, protocolNum, protocol.IntentStatus)
	if err != nil {
		return reply, 0, err
	}
	defer conn.Close()

	if _, err = conn.Write(protocol.AppendStatusRequest(nil)); err != nil {
		return reply, 0, eris.Wrap(err, "failed to send status request")
	}

	id, payload, err := protocol.ReadStringPacket(r)
	if err != nil {
		return reply, 0, eris.Wrap(err, "failed to read status response")
	}

	if id != protocol.StatusResponseID {
		return reply, 0, eris.Wrapf(protocol.ErrUnknownPacketID, "expected status response, got %#x", id)
	}

	if err = json.Unmarshal([]byte(payload), &reply); err != nil {
		return reply, 0, eris.Wrap(err, "failed to decode status response")
	}

	start := time.Now()
	token := start.UnixMilli()
	if _, err = conn.Write(protocol.AppendPingRequest(nil, token)); err != nil {
		return reply, 0, eris.Wrap(err, "failed to send ping")
	}

	pong, err := protocol.ReadPong(r)
	if err != nil {
		return reply, 0, err
	}

	if pong != token {
		return reply, 0, eris.Errorf("pong payload %d does not match ping %d", pong, token)
	}

	return reply, time.Since(start), nil
}

func probeLogin(ctx context.Context, address string, protocolNum int32, username string) (string, error) {
	conn, r, err := dialServer(ctx, address, protocolNum, protocol.IntentLogin)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err = conn.Write(protocol.AppendLoginStart(nil, username)); err != nil {
		return "", eris.Wrap(err, "failed to send login start")
	}

	id, payload, err := protocol.ReadStringPacket(r)
	if err != nil {
		return "", eris.Wrap(err, "failed to read login response")
	}

	if id != protocol.LoginDisconnectID {
		return "", eris.Wrapf(protocol.ErrUnknownPacketID, "expected disconnect, got %#x", id)
	}

	var message chatMessage
	if err = json.Unmarshal([]byte(payload), &message); err != nil {
		return "", eris.Wrap(err, "failed to decode disconnect message")
	}

	return message.Text, nil
}

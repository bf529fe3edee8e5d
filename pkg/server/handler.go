package server

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rolling-glass/looking-glass/pkg/connlog"
	"github.com/rolling-glass/looking-glass/pkg/protocol"
	"github.com/rolling-glass/looking-glass/pkg/storage"
)

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ctx = connlog.WithConn(ctx, conn)
	logger := connlog.Log(ctx)
	logger.Info().Msg("New connection")

	// unblock pending reads and writes on shutdown
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(s.cfg.Listener.Timeout)); err != nil {
		logger.Warn().Err(err).Msg("Failed to set deadline")
	}

	if err := s.exchange(ctx, conn); err != nil {
		logger.Warn().Err(err).Msg("Connection error")
	}

	conn.Close()
	logger.Info().Msg("Connection closed")
}

func (s *Server) exchange(ctx context.Context, conn net.Conn) error {
	logger := connlog.Log(ctx)
	r := bufio.NewReader(conn)

	hs, err := protocol.ReadHandshake(r)
	if err != nil {
		logger.Debug().Err(err).Msg("Invalid handshake")
		return err
	}

	logger.Debug().
		Int32("protocol", hs.Protocol).
		Str("version", protocol.VersionName(hs.Protocol)).
		Str("address", hs.Address).
		Uint16("port", hs.Port).
		Stringer("intent", hs.Intent).
		Msg("Read handshake")

	switch hs.Intent {
	case protocol.IntentStatus:
		return s.status(ctx, conn, r, hs)
	case protocol.IntentLogin:
		return s.login(ctx, conn, r, hs)
	}

	return eris.Wrapf(protocol.ErrBadIntent, "got %d", hs.Intent)
}

func (s *Server) status(ctx context.Context, conn net.Conn, r *bufio.Reader, hs protocol.Handshake) error {
	logger := connlog.Log(ctx)

	if err := protocol.ReadStatusRequest(r); err != nil {
		return err
	}
	logger.Debug().Msg("Read Status Request")

	packet, err := s.statuses.Packet(hs.Protocol)
	if err != nil {
		return err
	}

	logger.Debug().Msg("Writing Status Response")
	if _, err = conn.Write(packet); err != nil {
		return eris.Wrap(err, "failed to write status response")
	}
	s.recordVisit(ctx, conn, hs, "")

	logger.Debug().Msg("Waiting for Ping Request")
	payload, err := protocol.ReadPingRequest(r)
	if err != nil {
		return err
	}

	logger.Debug().Msg("Writing Ping Response")
	if _, err = conn.Write(protocol.AppendPong(nil, payload)); err != nil {
		return eris.Wrap(err, "failed to write pong")
	}

	return nil
}

func (s *Server) login(ctx context.Context, conn net.Conn, r *bufio.Reader, hs protocol.Handshake) error {
	logger := connlog.Log(ctx)

	username, err := protocol.ReadLoginStart(r)
	if err != nil {
		return err
	}
	logger.Debug().Str("username", username).Msg("Read Login Start")

	packet, err := disconnectPacket(s.cfg.LoginMessage(remoteIP(conn)))
	if err != nil {
		return err
	}

	logger.Debug().Msg("Writing Disconnect (Login)")
	if _, err = conn.Write(packet); err != nil {
		return eris.Wrap(err, "failed to write disconnect")
	}
	s.recordVisit(ctx, conn, hs, username)

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err = tcp.CloseWrite(); err != nil {
			return eris.Wrap(err, "failed to shut down connection")
		}
	}

	return nil
}

func (s *Server) recordVisit(ctx context.Context, conn net.Conn, hs protocol.Handshake, username string) {
	if s.visits == nil {
		return
	}

	err := s.visits.RecordVisit(ctx, storage.Visit{
		Time:     time.Now().UTC(),
		IP:       remoteIP(conn),
		Intent:   hs.Intent.String(),
		Protocol: hs.Protocol,
		Username: username,
	})
	if err != nil {
		connlog.Log(ctx).Warn().Err(err).Msg("Failed to record visit")
	}
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

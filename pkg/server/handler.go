package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/downfa11-org/streamlog/pkg/protocol"
	"github.com/downfa11-org/streamlog/pkg/types"
	"github.com/downfa11-org/streamlog/util"
	"github.com/google/uuid"
)

func writerKey(writer uuid.UUID, segment string) string {
	return writer.String() + "@" + segment
}

// HandleConnection serves one client until it disconnects, goes idle or sends a bad frame.
// Requests are processed in arrival order.
func (s *Server) HandleConnection(ctx context.Context, cc *ClientConnection) {
	defer cc.Close()

	for {
		if s.idleTimeout > 0 {
			_ = cc.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		cmd, err := protocol.ReadCommand(cc.conn)
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
			case errors.As(err, &ne) && ne.Timeout():
				util.Info("closing idle connection %s (last active %s)", cc.id, cc.LastActive().Format(time.RFC3339))
			default:
				util.Warn("⚠️ read error from %s: %v", cc.id, err)
			}
			return
		}
		cc.touch()

		reply := s.handleCommand(ctx, cc, cmd)
		if reply == nil {
			return
		}
		if err := protocol.WriteCommand(cc.conn, reply); err != nil {
			util.Warn("⚠️ write error to %s: %v", cc.id, err)
			return
		}
	}
}

// handleCommand returns the reply for cmd, or nil when the connection must be closed.
func (s *Server) handleCommand(ctx context.Context, cc *ClientConnection, cmd protocol.Command) protocol.Command {
	switch c := cmd.(type) {
	case *protocol.KeepAlive:
		return &protocol.KeepAlive{}

	case *protocol.SetupAppend:
		last, err := s.container.LastEventNumber(c.Segment, c.WriterID)
		switch {
		case err == nil:
			cc.addWriter(writerKey(c.WriterID, c.Segment))
			return &protocol.AppendSetup{RequestID: c.RequestID, Segment: c.Segment, WriterID: c.WriterID, LastEventNumber: last}
		case errors.Is(err, types.ErrSegmentSealed):
			return &protocol.SegmentIsSealed{RequestID: c.RequestID, Segment: c.Segment}
		case errors.Is(err, types.ErrNoSuchSegment):
			return &protocol.NoSuchSegment{RequestID: c.RequestID, Segment: c.Segment}
		default:
			util.Error("setup append %s failed: %v", c.Segment, err)
			return nil
		}

	case *protocol.Append:
		if c.EventNumber < 0 || !cc.hasWriter(writerKey(c.WriterID, c.Segment)) {
			return &protocol.InvalidEventNumber{WriterID: c.WriterID, EventNumber: c.EventNumber}
		}
		res, err := s.container.Append(ctx, c.Segment, c.WriterID, c.EventNumber, c.Data, c.ExpectedLength)
		switch {
		case err == nil:
			return &protocol.DataAppended{WriterID: c.WriterID, EventNumber: c.EventNumber, SegmentLength: res.Length}
		case errors.Is(err, types.ErrConditionalCheckFailed):
			return &protocol.ConditionalCheckFailed{WriterID: c.WriterID, EventNumber: c.EventNumber}
		case errors.Is(err, types.ErrSegmentSealed):
			return &protocol.SegmentIsSealed{RequestID: c.EventNumber, Segment: c.Segment}
		case errors.Is(err, types.ErrNoSuchSegment):
			return &protocol.NoSuchSegment{RequestID: c.EventNumber, Segment: c.Segment}
		default:
			util.Error("append to %s failed: %v", c.Segment, err)
			return nil
		}

	case *protocol.SealSegment:
		length, err := s.container.Seal(ctx, c.Segment)
		switch {
		case err == nil:
			return &protocol.SegmentSealed{RequestID: c.RequestID, Segment: c.Segment, Length: length}
		case errors.Is(err, types.ErrNoSuchSegment):
			return &protocol.NoSuchSegment{RequestID: c.RequestID, Segment: c.Segment}
		default:
			util.Error("seal %s failed: %v", c.Segment, err)
			return nil
		}

	case *protocol.GetSegmentInfo:
		info, err := s.container.Info(c.Segment)
		if errors.Is(err, types.ErrNoSuchSegment) {
			return &protocol.NoSuchSegment{RequestID: c.RequestID, Segment: c.Segment}
		}
		return &protocol.SegmentInfo{RequestID: c.RequestID, Segment: c.Segment, Length: info.Length, Sealed: info.Sealed}

	default:
		util.Warn("unexpected %s from %s", cmd.Type(), cc.id)
		return nil
	}
}


package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/openlift/carpool-backend/internal/models"
)

// inboundTimeout bounds how long one client message may hold a store
// connection.
const inboundTimeout = 5 * time.Second

// Router consumes inbound WebSocket messages and dispatches them to the
// coordinator and relay. Mutating messages run through exactly the same
// guards as their HTTP counterparts; the socket never bypasses the state
// machine.
type Router struct {
	hub   *Hub
	coord *Coordinator
	relay *Relay
	log   *slog.Logger
}

func NewRouter(hub *Hub, coord *Coordinator, relay *Relay, log *slog.Logger) *Router {
	return &Router{hub: hub, coord: coord, relay: relay, log: log}
}

// HandleInbound implements InboundHandler.
func (rt *Router) HandleInbound(c *Client, msg InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgSubscribeRide:
		err = rt.subscribe(ctx, c, msg.RideID)
	case MsgUnsubscribeRide:
		rt.hub.Unsubscribe(c, msg.RideID)
	case EventLocationUpdate:
		err = rt.relay.HandleReport(ctx, c, msg.RideID, msg.Data)
	case EventRideAccepted:
		_, err = rt.coord.Accept(ctx, c.ID, msg.RideID)
	case EventRideDeclined:
		_, err = rt.coord.Decline(ctx, c.ID, msg.RideID)
	case MsgRideJoinedAck:
		// Manual acknowledgment fallback: the rider confirms it saw the
		// outcome; rebroadcast so the driver's UI can settle too.
		rt.hub.PublishToRideExcept(msg.RideID, c, NewEnvelope(MsgRideJoinedAck, msg.RideID, map[string]uint{"rideId": msg.RideID}))
	default:
		rt.log.Warn("unknown inbound message type", "type", msg.Type, "userId", c.ID)
		return
	}

	if err != nil {
		rt.log.Info("inbound message rejected", "type", msg.Type, "userId", c.ID, "rideId", msg.RideID, "error", err)
	}
	if msg.AckID != "" {
		ack := Ack{AckID: msg.AckID, OK: err == nil}
		if err != nil {
			ack.Error = err.Error()
		}
		rt.hub.SendAck(c, ack)
	}
}

// subscribe joins the client to a ride room. Participants may always watch
// their ride; anyone may watch a ride that is still in the open pool.
func (rt *Router) subscribe(ctx context.Context, c *Client, rideID uint) error {
	ride, err := rt.coord.store.GetByID(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.RoleOf(c.ID) == models.RoleNone && ride.Status != models.RideStatusWaiting {
		return ErrForbidden
	}
	rt.hub.Subscribe(c, rideID)

	// Prime a live ride with the counterpart's last cached position so the
	// client does not wait for the next report.
	if ride.Status.HasLiveParticipants() && ride.RoleOf(c.ID) != models.RoleNone {
		if last, err := rt.relay.LastKnown(ctx, c.ID, rideID); err == nil && last != nil {
			rt.hub.PublishToUser(c.ID, NewEnvelope(EventLocationUpdate, rideID, *last))
		}
	}
	return nil
}

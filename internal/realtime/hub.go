package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/gorilla/websocket"

	"github.com/scionsync/scion/internal/crdt"
)

// Hub owns every open fan-out channel, grouped by vault. Replacing a
// device's channel must be race-free: Hub.Connect holds the hub's
// channel-table mutex for the full close-then-insert so no broadcast can
// observe a torn state.
type Hub struct {
	store   *crdt.Store
	applier Applier
	logger  *slog.Logger

	mu       sync.Mutex
	channels map[string]map[string]*channel // vault -> deviceID -> channel
}

// NewHub wires a Hub to the given CRDT store and Applier. store owns the
// per-(vault,file_id) text CRDTs and per-vault structure CRDTs; applier
// commits materialized state into the Content Store.
func NewHub(store *crdt.Store, applier Applier, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:    store,
		applier:  applier,
		logger:   logger,
		channels: make(map[string]map[string]*channel),
	}
}

// Connect upgrades conn into a tracked channel for (vault, deviceID),
// displacing any existing channel for that device, then runs its read
// loop until the connection closes or the context is cancelled. It blocks
// for the lifetime of the connection, so HTTP handlers call it from the
// goroutine servicing the upgraded request.
func (h *Hub) Connect(ctx context.Context, vault, deviceID string, conn *websocket.Conn) {
	ch := newChannel(vault, deviceID, conn)

	h.mu.Lock()
	bucket, ok := h.channels[vault]
	if !ok {
		bucket = make(map[string]*channel)
		h.channels[vault] = bucket
	}
	if prior, exists := bucket[deviceID]; exists {
		prior.close()
	}
	bucket[deviceID] = ch
	h.mu.Unlock()

	h.logger.Info("fan-out channel opened", "vault", vault, "device", deviceID)
	h.readLoop(ctx, ch)

	h.mu.Lock()
	if bucket, ok := h.channels[vault]; ok && bucket[deviceID] == ch {
		delete(bucket, deviceID)
		if len(bucket) == 0 {
			delete(h.channels, vault)
		}
	}
	h.mu.Unlock()
	ch.close()
	h.logger.Info("fan-out channel closed", "vault", vault, "device", deviceID)
}

// ConnectedVaults and ClientsByVault back GET /ws/status.
func (h *Hub) ConnectedVaults() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.channels))
	for v := range h.channels {
		out = append(out, v)
	}
	return out
}

// ClientsByVault returns the number of open channels per vault.
func (h *Hub) ClientsByVault() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.channels))
	for v, bucket := range h.channels {
		out[v] = len(bucket)
	}
	return out
}

// RunHeartbeat pings every open channel every 30s and closes any channel
// that has gone quiet for more than 60s. It runs until
// ctx is cancelled; callers start it as a tracked background job via
// lifecycle.Go.
func (h *Hub) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	h.mu.Lock()
	var stale, live []*channel
	for _, bucket := range h.channels {
		for _, ch := range bucket {
			if ch.staleSince(now) {
				stale = append(stale, ch)
			} else {
				live = append(live, ch)
			}
		}
	}
	h.mu.Unlock()

	for _, ch := range stale {
		h.logger.Info("closing stale fan-out channel", "vault", ch.vault, "device", ch.deviceID)
		ch.close()
	}
	for _, ch := range live {
		if err := ch.send(Message{Type: TypePing, VaultName: ch.vault, DeviceID: ch.deviceID, Timestamp: now.Unix()}); err != nil {
			h.logger.Warn("heartbeat ping failed", "vault", ch.vault, "device", ch.deviceID, "error", err)
			ch.close()
		}
	}
}

// RunWithLifecycle starts the heartbeat loop as a tracked background job
// bound to ctx, the same tracked-background-job pattern the vault root
// scanner uses for its own watch loop.
func (h *Hub) RunWithLifecycle(ctx context.Context) {
	lifecycle.Go(ctx, h.RunHeartbeat, lifecycle.WithErrorHandler(func(err error) {
		h.logger.Error("fan-out heartbeat stopped", "error", err)
	}))
}

func (h *Hub) readLoop(ctx context.Context, ch *channel) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		ch.touch()

		msg, err := decodeMessage(raw)
		if err != nil {
			h.sendError(ch, fmt.Sprintf("malformed message: %v", err))
			continue
		}
		h.handle(ch, msg)
	}
}

func (h *Hub) handle(ch *channel, msg Message) {
	switch msg.Type {
	case TypePing:
		_ = ch.send(Message{Type: TypePong, VaultName: ch.vault, DeviceID: ch.deviceID, Timestamp: time.Now().Unix()})

	case TypePong:
		// touch() in readLoop already refreshed last_seen.

	case TypeYjsUpdate:
		h.handleYjsUpdate(ch, msg)

	case TypeStructureUpdate:
		h.handleStructureUpdate(ch, msg)

	case TypeBinaryUpdate:
		h.broadcastExcept(ch, msg)

	case TypeSyncRequest:
		h.handleSyncRequest(ch, msg)

	default:
		h.logger.Warn("dropping unknown fan-out message type", "vault", ch.vault, "device", ch.deviceID, "type", msg.Type)
	}
}

func (h *Hub) handleYjsUpdate(ch *channel, msg Message) {
	if msg.FileID == "" || msg.Payload == "" {
		h.sendError(ch, "yjs-update requires fileId and payload")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		h.sendError(ch, "payload is not valid base64")
		return
	}

	doc, err := h.store.Text(ch.vault, msg.FileID)
	if err != nil {
		h.sendError(ch, "could not open text document")
		return
	}
	if err := doc.ApplyUpdate(raw); err != nil {
		h.sendError(ch, "could not apply text update")
		return
	}
	if err := h.store.PersistText(ch.vault, msg.FileID, doc); err != nil {
		h.logger.Warn("persist text crdt snapshot failed", "vault", ch.vault, "file_id", msg.FileID, "error", err)
	}

	if _, err := h.applier.ApplyText(ch.vault, msg.FileID, doc.MaterializeText()); err != nil {
		h.logger.Warn("materialize text update into content store failed", "vault", ch.vault, "file_id", msg.FileID, "error", err)
	}

	h.broadcastExcept(ch, msg)
}

func (h *Hub) handleStructureUpdate(ch *channel, msg Message) {
	if msg.Payload == "" {
		h.sendError(ch, "structure-update requires payload")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		h.sendError(ch, "payload is not valid base64")
		return
	}

	doc, err := h.store.Structure(ch.vault)
	if err != nil {
		h.sendError(ch, "could not open structure document")
		return
	}
	entry, err := doc.ApplyUpdate(raw)
	if err != nil {
		h.sendError(ch, "could not apply structure update")
		return
	}
	if err := h.store.PersistStructure(ch.vault, doc); err != nil {
		h.logger.Warn("persist structure crdt snapshot failed", "vault", ch.vault, "error", err)
	}

	if _, err := h.applier.ApplyStructure(ch.vault, entry.FileID, entry.Path, entry.Deleted); err != nil {
		h.logger.Warn("reconcile structure update into identity store failed", "vault", ch.vault, "file_id", entry.FileID, "error", err)
	}

	h.broadcastExcept(ch, msg)
}

// handleSyncRequest answers the reserved sync-request type: it emits
// the server's current text state for fileId as an incremental delta
// computed against the requesting peer's state vector, carried in Payload.
func (h *Hub) handleSyncRequest(ch *channel, msg Message) {
	if msg.FileID == "" {
		h.sendError(ch, "sync-request requires fileId")
		return
	}
	doc, err := h.store.Text(ch.vault, msg.FileID)
	if err != nil {
		h.sendError(ch, "could not open text document")
		return
	}
	var peerVector []byte
	if msg.Payload != "" {
		if decoded, err := base64.StdEncoding.DecodeString(msg.Payload); err == nil {
			peerVector = decoded
		}
	}
	update, ok, err := doc.EncodeStateAsUpdate(peerVector)
	if err != nil || !ok {
		return
	}
	_ = ch.send(Message{
		Type:      TypeSyncResponse,
		VaultName: ch.vault,
		DeviceID:  ch.deviceID,
		FileID:    msg.FileID,
		Payload:   base64.StdEncoding.EncodeToString(update),
		Timestamp: time.Now().Unix(),
	})
}

// broadcastExcept relays msg, verbatim, to every other open channel of
// origin's vault. A delivery failure
// logs and closes that peer's channel without affecting origin or any
// other peer.
func (h *Hub) broadcastExcept(origin *channel, msg Message) {
	h.mu.Lock()
	bucket := h.channels[origin.vault]
	peers := make([]*channel, 0, len(bucket))
	for id, ch := range bucket {
		if id != origin.deviceID {
			peers = append(peers, ch)
		}
	}
	h.mu.Unlock()

	for _, peer := range peers {
		if err := peer.send(msg); err != nil {
			h.logger.Warn("broadcast delivery failed, closing channel", "vault", peer.vault, "device", peer.deviceID, "error", err)
			peer.close()
		}
	}
}

func (h *Hub) sendError(ch *channel, errMsg string) {
	_ = ch.send(Message{Type: TypeError, VaultName: ch.vault, DeviceID: ch.deviceID, Error: errMsg, Timestamp: time.Now().Unix()})
}

package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// Embedded ledgers store events under
//
//	sku \x00 warehouse \x00 type \x00 <8-byte time> <id>
//
// so a prefix scan over one stream returns events in time order.

const sep = 0x00

func streamPrefix(key domain.InventoryKey, eventType domain.EventType) []byte {
	var b bytes.Buffer
	b.WriteString(key.SKUID)
	b.WriteByte(sep)
	b.WriteString(key.WarehouseID)
	b.WriteByte(sep)
	b.WriteString(string(eventType))
	b.WriteByte(sep)
	return b.Bytes()
}

// timeBytes encodes t so that byte order matches chronological order,
// including instants before 1970. Instants outside the event time range
// clamp to its ends, so window bounds far in the past or future still order
// correctly.
func timeBytes(t time.Time) []byte {
	switch {
	case t.Before(domain.MinEventTime):
		t = domain.MinEventTime
	case t.After(domain.MaxEventTime):
		t = domain.MaxEventTime
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano())^(1<<63))
	return buf
}

func eventKey(e *domain.InventoryEvent) []byte {
	k := streamPrefix(e.Key(), e.Type)
	k = append(k, timeBytes(e.Time)...)
	return append(k, e.ID...)
}

// seekStart returns the first key of the window in a stream.
func seekStart(prefix []byte, window domain.TimeWindow) []byte {
	if window.Since.IsZero() {
		return prefix
	}
	start := append([]byte{}, prefix...)
	return append(start, timeBytes(window.Since.Add(time.Nanosecond))...)
}

// pastWindow reports whether an event key lies after the window's end.
func pastWindow(k []byte, prefixLen int, window domain.TimeWindow) bool {
	if window.Until.IsZero() || len(k) < prefixLen+8 {
		return false
	}
	return bytes.Compare(k[prefixLen:prefixLen+8], timeBytes(window.Until)) > 0
}

func inventoryKeyBytes(key domain.InventoryKey) []byte {
	return []byte(key.SKUID + "\x00" + key.WarehouseID)
}

func parseInventoryKey(b []byte) (domain.InventoryKey, error) {
	i := bytes.IndexByte(b, sep)
	if i < 0 {
		return domain.InventoryKey{}, fmt.Errorf("malformed inventory key %q", b)
	}
	return domain.InventoryKey{SKUID: string(b[:i]), WarehouseID: string(b[i+1:])}, nil
}

func encodeEvent(e *domain.InventoryEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (domain.InventoryEvent, error) {
	var e domain.InventoryEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return e, nil
}

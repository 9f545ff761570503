package tradelog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Checksum is a cheap tamper-evidence digest over the metadata, the entry
// count, the sum of quantities and the boundary entries. It does not replace
// a replay.
// Formula: SHA256(seasonId|engineVersion|initialCapital|totalTicks|count|quantitySum|first|last)
func Checksum(p *Payload) string {
	var first, last string
	var quantitySum int64
	if n := len(p.TradeLogs); n > 0 {
		first = entryKey(p.TradeLogs[0])
		last = entryKey(p.TradeLogs[n-1])
	}
	for _, e := range p.TradeLogs {
		quantitySum += e.Quantity
	}

	data := fmt.Sprintf("%s|%s|%d|%d|%d|%d|%s|%s",
		p.Meta.SeasonID,
		p.Meta.EngineVersion,
		p.Meta.InitialCapital,
		p.Meta.TotalTicks,
		len(p.TradeLogs),
		quantitySum,
		first,
		last,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum reports whether the payload's checksum matches its content.
func VerifyChecksum(p *Payload) bool {
	return p.Checksum != "" && p.Checksum == Checksum(p)
}

func entryKey(e Entry) string {
	limit := ""
	if e.LimitPrice != nil {
		limit = strconv.FormatFloat(*e.LimitPrice, 'f', -1, 64)
	}
	return fmt.Sprintf("%d:%s:%d:%d:%s:%s", e.Tick, e.Type, e.StockID, e.Quantity, e.OrderType, limit)
}

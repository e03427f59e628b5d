package ledger

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

var errBadCursor = errors.New("malformed cursor")

func encodeCursor(p storage.HistoryPosition) string {
	raw := strconv.FormatUint(p.OrderingBlock, 10) + ":" + strconv.FormatInt(p.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(op, s string) (*storage.HistoryPosition, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.Validation(op, "cursor", errBadCursor)
	}
	block, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, domain.Validation(op, "cursor", errBadCursor)
	}
	b, err := strconv.ParseUint(block, 10, 64)
	if err != nil {
		return nil, domain.Validation(op, "cursor", errBadCursor)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return nil, domain.Validation(op, "cursor", errBadCursor)
	}
	return &storage.HistoryPosition{OrderingBlock: b, ID: n}, nil
}

package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageIDPrefix marks generated chat message identifiers.
const MessageIDPrefix = "msg_"

// NewMessageID returns a globally unique message id of the form
// msg_<unix millis>_<32 hex chars>.
func NewMessageID(now time.Time) string {
	entropy := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s%d_%s", MessageIDPrefix, now.UnixMilli(), entropy)
}

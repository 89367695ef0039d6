package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"

	"github.com/a-essam23/chatrelay/internal/broadcast"
	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ErrRejected marks a frame that failed validation or authorization. It is
// dropped without any reply to the sender.
var ErrRejected = errors.New("frame rejected")

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Relay holds the handlers for call signals and typing indicators. It keeps no
// per-call state; every frame is validated and forwarded on its own.
type Relay struct {
	dir      collab.Directory
	bc       *broadcast.Broadcaster
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRelay(dir collab.Directory, bc *broadcast.Broadcaster, logger *slog.Logger) *Relay {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Relay{
		dir:      dir,
		bc:       bc,
		validate: validate,
		logger:   logger.With(slog.String("component", "relay")),
	}
}

// decode unmarshals and validates a frame body. Type mismatches such as a
// string toUserId count as a rejection.
func (r *Relay) decode(payload []byte, frame any) error {
	if err := json.Unmarshal(payload, frame); err != nil {
		return reject("malformed frame: %v", err)
	}
	if err := r.validate.Struct(frame); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return reject("invalid %s: failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return reject("invalid frame: %v", err)
	}
	return nil
}

// absoluteURL resolves ref against scheme://host. Absolute refs and empty
// values are returned unchanged.
func absoluteURL(scheme, host, ref string) string {
	if ref == "" || host == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	if scheme == "" {
		scheme = "http"
	}
	base := &url.URL{Scheme: scheme, Host: host, Path: "/"}
	return base.ResolveReference(u).String()
}

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/messaging"
)

// userProfile is the slice of the users service response the notifier
// depends on. Decoding into an explicit struct keeps the cross-service
// contract checked here instead of failing at use time.
type userProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Notifier consumes checkout events and composes a notification for the
// list's owner. Delivery is a log line; the interesting part is the
// service-to-service lookup of the owner's contact address.
type Notifier struct {
	usersURL string
	tokens   *auth.Tokens
	client   *http.Client
	logger   *slog.Logger
}

// NewNotifier creates the notifier. usersURL is the users service base URL;
// tokens must share the platform signing secret so the notifier can mint a
// token for the owner's subject.
func NewNotifier(usersURL string, tokens *auth.Tokens, logger *slog.Logger) *Notifier {
	return &Notifier{
		usersURL: strings.TrimRight(usersURL, "/"),
		tokens:   tokens,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Handle processes one checkout event body.
func (n *Notifier) Handle(ctx context.Context, body []byte) error {
	var evt messaging.CheckoutCompletedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: decode checkout event: %v", messaging.ErrProcessing, err)
	}
	if evt.UserID == "" {
		return fmt.Errorf("%w: checkout event has no userId", messaging.ErrProcessing)
	}

	profile, err := n.lookupUser(ctx, evt.UserID)
	if err != nil {
		return fmt.Errorf("look up user %s: %w", evt.UserID, err)
	}

	n.logger.Info("checkout notification",
		"to", profile.Email,
		"user", profile.Name,
		"list_id", evt.ListID,
		"total_items", evt.Summary.TotalItems,
		"purchased_items", evt.Summary.PurchasedItems,
		"estimated_total", evt.Summary.EstimatedTotal,
	)
	return nil
}

// lookupUser fetches the owner's profile. The minted token carries the
// owner's subject, which is what the users service's owner check expects.
func (n *Notifier) lookupUser(ctx context.Context, userID string) (userProfile, error) {
	token, err := n.tokens.Mint(userID, "")
	if err != nil {
		return userProfile{}, fmt.Errorf("mint service token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.usersURL+"/users/"+userID, nil)
	if err != nil {
		return userProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return userProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return userProfile{}, fmt.Errorf("%w: users service returned HTTP %d", messaging.ErrProcessing, resp.StatusCode)
	}

	var profile userProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return userProfile{}, fmt.Errorf("%w: malformed user response: %v", messaging.ErrProcessing, err)
	}
	if profile.Email == "" {
		return userProfile{}, fmt.Errorf("%w: user response has no email", messaging.ErrProcessing)
	}
	return profile, nil
}

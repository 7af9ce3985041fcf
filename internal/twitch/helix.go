package twitch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// User is a Helix user row reduced to the fields this service consumes.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Costs summarizes the subscription cost accounting Twitch returns alongside
// subscription listings.
type Costs struct {
	Total        int `json:"total"`
	TotalCost    int `json:"total_cost"`
	MaxTotalCost int `json:"max_total_cost"`
}

// UserByLogin looks up a user by login name. A nil user without error means
// the login does not exist.
func (c *Client) UserByLogin(ctx context.Context, login string) (*User, error) {
	return c.user(ctx, url.Values{"login": {login}})
}

// UserByID looks up a user by numeric ID. A nil user without error means the
// ID does not exist.
func (c *Client) UserByID(ctx context.Context, id string) (*User, error) {
	return c.user(ctx, url.Values{"id": {id}})
}

func (c *Client) user(ctx context.Context, query url.Values) (*User, error) {
	var response struct {
		Data []User `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "users", query, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, nil
	}
	user := response.Data[0]
	return &user, nil
}

// StreamInfo returns the live stream row for the user, or nil when the user is
// not currently broadcasting.
func (c *Client) StreamInfo(ctx context.Context, userID string) (*models.StreamInfo, error) {
	var response struct {
		Data []models.StreamInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "streams", url.Values{"user_id": {userID}}, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, nil
	}
	info := response.Data[0]
	return &info, nil
}

type createSubscriptionRequest struct {
	Type      string             `json:"type"`
	Version   string             `json:"version"`
	Condition eventsub.Condition `json:"condition"`
	Transport eventsub.Transport `json:"transport"`
}

// CreateEventSubSubscription registers a webhook subscription of the given
// type for the broadcaster, using the client's configured callback and secret.
// A 409 response surfaces as an *APIError for the caller to recover from.
func (c *Client) CreateEventSubSubscription(ctx context.Context, subType, broadcasterID string) (*eventsub.Subscription, error) {
	payload := createSubscriptionRequest{
		Type:      subType,
		Version:   "1",
		Condition: eventsub.Condition{BroadcasterUserID: broadcasterID},
		Transport: eventsub.Transport{
			Method:   "webhook",
			Callback: c.webhookURL,
			Secret:   c.webhookSecret,
		},
	}
	var response struct {
		Data []eventsub.Subscription `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "eventsub/subscriptions", nil, payload, &response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("create subscription response missing data")
	}
	subscription := response.Data[0]
	return &subscription, nil
}

// DeleteEventSubSubscription removes a subscription by ID. A 404 response is
// treated as success since the subscription is already gone.
func (c *Client) DeleteEventSubSubscription(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "eventsub/subscriptions", url.Values{"id": {id}}, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// ListEventSubSubscriptions returns every subscription on the application,
// following pagination cursors, together with the cost accounting from the
// final page.
func (c *Client) ListEventSubSubscriptions(ctx context.Context) ([]eventsub.Subscription, Costs, error) {
	var (
		subscriptions []eventsub.Subscription
		costs         Costs
		cursor        string
	)
	for {
		query := url.Values{}
		if cursor != "" {
			query.Set("after", cursor)
		}
		var response struct {
			Data         []eventsub.Subscription `json:"data"`
			Total        int                     `json:"total"`
			TotalCost    int                     `json:"total_cost"`
			MaxTotalCost int                     `json:"max_total_cost"`
			Pagination   struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := c.do(ctx, http.MethodGet, "eventsub/subscriptions", query, nil, &response); err != nil {
			return nil, Costs{}, err
		}
		subscriptions = append(subscriptions, response.Data...)
		costs = Costs{
			Total:        response.Total,
			TotalCost:    response.TotalCost,
			MaxTotalCost: response.MaxTotalCost,
		}
		if response.Pagination.Cursor == "" {
			return subscriptions, costs, nil
		}
		cursor = response.Pagination.Cursor
	}
}

package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

// PushResult is the outcome for one token in a batch.
type PushResult struct {
	Token string
	Err   error
}

// Pusher submits a batch and reports per-token results. The returned error is
// reserved for failures of the batch as a whole.
type Pusher interface {
	SendBatch(ctx context.Context, msgs []PushMessage) ([]PushResult, error)
}

// fcmBatchLimit is the maximum number of messages per SendEach call.
const fcmBatchLimit = 500

type FCMPusher struct {
	client *messaging.Client
}

var _ Pusher = (*FCMPusher)(nil)

func NewFCMPusher(client *messaging.Client) *FCMPusher {
	return &FCMPusher{client: client}
}

func (p *FCMPusher) SendBatch(ctx context.Context, msgs []PushMessage) ([]PushResult, error) {
	results := make([]PushResult, 0, len(msgs))
	for start := 0; start < len(msgs); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(msgs))
		chunk := msgs[start:end]

		batch := make([]*messaging.Message, len(chunk))
		for i, m := range chunk {
			batch[i] = &messaging.Message{
				Token:        m.Token,
				Notification: &messaging.Notification{Title: m.Title, Body: m.Body},
			}
		}
		resp, err := p.client.SendEach(ctx, batch)
		if err != nil {
			return results, fmt.Errorf("fcm send: %w", err)
		}
		for i, r := range resp.Responses {
			res := PushResult{Token: chunk[i].Token}
			if !r.Success {
				res.Err = r.Error
				if res.Err == nil {
					res.Err = fmt.Errorf("fcm rejected token")
				}
			}
			results = append(results, res)
		}
	}
	return results, nil
}

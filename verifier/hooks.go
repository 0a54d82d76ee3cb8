package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TierUpgradeHook is notified after a successful verification so the shop
// backend can recount the customer's paid orders. It runs fire-and-forget:
// errors are logged, never propagated, and never affect the verification.
type TierUpgradeHook func(ctx context.Context, userId int, orderIds []string) error

func NoopTierUpgrade(context.Context, int, []string) error { return nil }

// HTTPTierUpgradeHook posts the upgrade request to the shop backend.
func HTTPTierUpgradeHook(url string, client *http.Client) TierUpgradeHook {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, userId int, orderIds []string) error {
		payload, err := json.Marshal(map[string]interface{}{
			"user_id":   userId,
			"order_ids": orderIds,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("tier upgrade returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// Package matcher scores pending payment detections against open orders.
// Scoring is pure: no clocks, no stores, no side effects, so the same
// detection and order pool always produce the same ranked candidates.
package matcher

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/models"
)

// MinConfidence is the floor below which an order is not considered a
// candidate at all.
const MinConfidence = 50

type Candidate struct {
	OrderID    string `json:"orderId"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// Match ranks all orders against a detection, highest confidence first.
// Orders scoring below MinConfidence are excluded.
func Match(detection *models.PaymentDetection, orders []models.Order) []Candidate {
	candidates := make([]Candidate, 0, len(orders))
	for i := range orders {
		confidence, reason := Score(detection, &orders[i])
		if confidence < MinConfidence {
			continue
		}
		candidates = append(candidates, Candidate{
			OrderID:    orders[i].ID,
			Confidence: confidence,
			Reason:     reason,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// Score computes the 0-100 confidence for one detection/order pair along with
// a human-readable breakdown. Amount contributes up to 50, name similarity up
// to 30 and timing up to 20.
func Score(detection *models.PaymentDetection, order *models.Order) (int, string) {
	amount := amountScore(detection.Amount, order.FinalTotal)
	name := nameScore(detection.SenderName, order.DisplayName())
	timing := timingScore(detection, order)

	reason := fmt.Sprintf("amount:%d name:%d timing:%d", amount, name, timing)
	return amount + name + timing, reason
}

func amountScore(detected, expected int64) int {
	diff := detected - expected
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 0:
		return 50
	case diff < 1000:
		return 40
	case diff < 5000:
		return 20
	default:
		return 0
	}
}

func nameScore(sender, customer string) int {
	similarity := NameSimilarity(sender, customer)
	switch {
	case similarity >= 90:
		return 30
	case similarity >= 80:
		return 20
	case similarity >= 60:
		return 10
	default:
		return 0
	}
}

// NameSimilarity is the case-insensitive levenshtein similarity of two names
// as an integer percentage. Two empty names are identical.
func NameSimilarity(a, b string) int {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return (maxLen - dist) * 100 / maxLen
}

func timingScore(detection *models.PaymentDetection, order *models.Order) int {
	delta := detection.Timestamp.Sub(order.CreatedAt)
	switch {
	case delta >= 0 && delta <= time.Hour:
		return 20
	case delta > time.Hour && delta <= 24*time.Hour:
		return 10
	default:
		// A payment observed before the order existed cannot belong to it.
		return 0
	}
}

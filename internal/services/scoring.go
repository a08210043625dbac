package services

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

// Score weights and caps. Each signal contributes at most its cap; the sum
// is clamped to [MinScore, MaxScore].
const (
	MinScore = 0
	MaxScore = 100

	pointsPerFeature   = 6
	featureCap         = 30
	pointsPerLaunch    = 2
	launchCap          = 20
	feedbackBase       = 5
	feedbackCharsPerPt = 25
	feedbackCap        = 20
	pointsPerStar      = 2
	ratingCap          = 10
	sessionSecsPerPt   = 3 * 60
	sessionCap         = 20

	burstWindow     = 60 * time.Second
	burstMinEvents  = 3
	lowRatingCutoff = 2
)

// Fraud flags stored on the engagement next to its score.
const (
	FlagNoAppLaunch          = "NO_APP_LAUNCH"
	FlagFeedbackWithoutUsage = "FEEDBACK_WITHOUT_USAGE"
	FlagBurstActivity        = "BURST_ACTIVITY"
	FlagLowRatingNoFeedback  = "LOW_RATING_NO_FEEDBACK"
)

// ScoreBreakdown is the per-signal contribution to an engagement score.
type ScoreBreakdown struct {
	Features int `json:"features"`
	Launches int `json:"launches"`
	Feedback int `json:"feedback"`
	Rating   int `json:"rating"`
	Sessions int `json:"sessions"`
	Total    int `json:"total"`
}

// ScoreEngagement computes the 0-100 quality score of an engagement from its
// feedback, rating and usage logs. It depends on nothing but its inputs.
func ScoreEngagement(app *models.Application, logs []models.UsageLog) int {
	return BreakdownEngagement(app, logs).Total
}

func BreakdownEngagement(app *models.Application, logs []models.UsageLog) ScoreBreakdown {
	var b ScoreBreakdown
	features := make(map[string]struct{})
	launches := 0
	sessionSecs := 0
	for _, l := range logs {
		switch l.EventType {
		case models.UsageEventFeatureUse:
			name := strings.ToLower(strings.TrimSpace(l.Feature))
			if name != "" {
				features[name] = struct{}{}
			}
		case models.UsageEventAppLaunch:
			launches++
		case models.UsageEventSession:
			if l.DurationSeconds > 0 {
				sessionSecs += l.DurationSeconds
			}
		}
	}
	b.Features = min(len(features)*pointsPerFeature, featureCap)
	b.Launches = min(launches*pointsPerLaunch, launchCap)
	b.Sessions = min(sessionSecs/sessionSecsPerPt, sessionCap)

	if fb := feedbackText(app); fb != "" {
		b.Feedback = min(feedbackBase+utf8.RuneCountInString(fb)/feedbackCharsPerPt, feedbackCap)
	}
	if app != nil && app.Rating != nil && *app.Rating > 0 {
		b.Rating = min(*app.Rating*pointsPerStar, ratingCap)
	}

	total := b.Features + b.Launches + b.Feedback + b.Rating + b.Sessions
	b.Total = max(MinScore, min(total, MaxScore))
	return b
}

// DetectFraud returns the heuristic flags raised by an engagement, sorted.
func DetectFraud(app *models.Application, logs []models.UsageLog) []string {
	flags := []string{}
	fb := feedbackText(app)

	launches := 0
	for _, l := range logs {
		if l.EventType == models.UsageEventAppLaunch {
			launches++
		}
	}
	if launches == 0 {
		flags = append(flags, FlagNoAppLaunch)
	}
	if fb != "" && len(logs) == 0 {
		flags = append(flags, FlagFeedbackWithoutUsage)
	}
	if len(logs) >= burstMinEvents {
		first, last := logs[0].OccurredAt, logs[0].OccurredAt
		for _, l := range logs[1:] {
			if l.OccurredAt.Before(first) {
				first = l.OccurredAt
			}
			if l.OccurredAt.After(last) {
				last = l.OccurredAt
			}
		}
		if last.Sub(first) <= burstWindow {
			flags = append(flags, FlagBurstActivity)
		}
	}
	if app != nil && app.Rating != nil && *app.Rating <= lowRatingCutoff && fb == "" {
		flags = append(flags, FlagLowRatingNoFeedback)
	}
	sort.Strings(flags)
	return flags
}

func feedbackText(app *models.Application) string {
	if app == nil || app.Feedback == nil {
		return ""
	}
	return strings.TrimSpace(*app.Feedback)
}

// Package classifier maps raw video metadata onto a lifecycle category.
package classifier

import (
	"time"

	"livenotify/internal/model"
)

// Classify returns the lifecycle category of a payload together with the
// timestamp that anchors it. It never returns CategoryArchive: archival is
// only confirmed by the lifecycle machine re-observing a completed video.
//
// An end time always wins. The broadcast content hint is ignored for ended
// broadcasts because the provider is observed to leave it stale or blank.
func Classify(md model.Metadata) model.ClassificationResult {
	res := model.ClassificationResult{
		VideoID:              md.VideoID,
		ChannelID:            md.ChannelID,
		Title:                md.Title,
		BroadcastContentHint: md.BroadcastContent,
	}

	if ld := md.Live; ld != nil {
		res.ScheduledStart = copyTime(ld.ScheduledStart)
		res.ActualStart = copyTime(ld.ActualStart)
		res.ActualEnd = copyTime(ld.ActualEnd)

		switch {
		case ld.ScheduledStart != nil && ld.ActualStart == nil && ld.ActualEnd == nil:
			res.Category = model.CategorySchedule
			res.RepresentativeTime = *ld.ScheduledStart
		case ld.ActualStart != nil && ld.ActualEnd == nil:
			res.Category = model.CategoryLive
			res.RepresentativeTime = *ld.ActualStart
		case ld.ActualEnd != nil:
			res.Category = model.CategoryCompleted
			res.RepresentativeTime = *ld.ActualEnd
		default:
			res.Category = model.CategoryUnknown
		}
		return res
	}

	res.Category = model.CategoryVideo
	res.RepresentativeTime = md.PublishedAt
	res.IsPremiere = md.BroadcastContent == model.BroadcastPremiere
	return res
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

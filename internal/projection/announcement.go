package projection

import (
	"strconv"
	"strings"

	"github.com/pku-geekgame/ctf-core/internal/store"
)

// RenderTemplate substitutes {tick} and {group} placeholders in a content
// template (§3 Announcement, Challenge.desc_template), mirroring the
// original's str.format(tick=..., group=...) rendering.
func RenderTemplate(tmpl string, tick int, group string) string {
	r := strings.NewReplacer("{tick}", strconv.Itoa(tick), "{group}", group)
	return r.Replace(tmpl)
}

// Announcement is the projected view of an AnnouncementRow.
type Announcement struct {
	Store store.AnnouncementRow
}

// Announcements owns the full announcement set, keyed by id.
type Announcements struct {
	game *Game

	List []*Announcement
	ByID map[int64]*Announcement
}

// NewAnnouncements builds an Announcements collection from persisted rows.
func NewAnnouncements(game *Game, rows []store.AnnouncementRow) *Announcements {
	a := &Announcements{game: game}
	a.OnStoreReload(rows)
	return a
}

func (a *Announcements) OnStoreReload(rows []store.AnnouncementRow) {
	a.List = make([]*Announcement, len(rows))
	for i, r := range rows {
		a.List[i] = &Announcement{Store: r}
	}
	a.reindex()
}

func (a *Announcements) reindex() {
	a.ByID = make(map[int64]*Announcement, len(a.List))
	for _, item := range a.List {
		a.ByID[item.Store.ID] = item
	}
}

// OnStoreUpdate upserts or removes (newRow == nil) a single announcement by
// id, and emits a local push on insert (§4.9 UPDATE_ANNOUNCEMENT). The push
// itself is emitted by the caller (worker event handler), which has access
// to the local message bus; this method only updates projection state and
// reports whether an insert happened.
func (a *Announcements) OnStoreUpdate(id int64, newRow *store.AnnouncementRow) (inserted bool) {
	var kept []*Announcement
	var existed bool
	for _, item := range a.List {
		if item.Store.ID == id {
			existed = true
			continue
		}
		kept = append(kept, item)
	}

	if newRow == nil {
		a.List = kept
		a.reindex()
		return false
	}

	a.List = append(kept, &Announcement{Store: *newRow})
	a.reindex()
	return !existed
}

func (a *Announcements) OnTickChange()                            {}
func (a *Announcements) OnScoreboardReset()                       {}
func (a *Announcements) OnScoreboardUpdate(_ *Submission, _ bool) {}
func (a *Announcements) OnScoreboardBatchUpdateDone()             {}

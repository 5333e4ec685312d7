package dex

import "github.com/matthewgall/binder/internal/models"

const (
	SlotsPerPage   = 9
	PagesPerFolder = 60
	SlotsPerFolder = SlotsPerPage * PagesPerFolder
)

// Locate returns where an id sits in a binder of 9-slot pages and 540-slot folders.
// Ids below 1 are not rejected; the result is meaningless for them.
func Locate(id int) models.Location {
	index := id - 1
	within := index % SlotsPerFolder

	return models.Location{
		Folder:   index/SlotsPerFolder + 1,
		Page:     within/SlotsPerPage + 1,
		Position: within%SlotsPerPage + 1,
	}
}

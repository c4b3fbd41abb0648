// Package imdb rebuilds the local IMDb reference tables from the nightly TSV
// dumps. The import is a full refresh: each table is dropped, reloaded in
// batches, and indexed after the load. Referential filtering keeps the
// secondary tables aligned with the titles that survived type filtering.
package imdb

import "fmt"

const datasetBaseURL = "https://datasets.imdbws.com"

// Dataset identifies one downloadable TSV dump.
type Dataset struct {
	Name     string
	Filename string
	Required bool
}

var (
	DatasetBasics     = Dataset{Name: "title.basics", Filename: "title.basics.tsv.gz", Required: true}
	DatasetRatings    = Dataset{Name: "title.ratings", Filename: "title.ratings.tsv.gz"}
	DatasetAkas       = Dataset{Name: "title.akas", Filename: "title.akas.tsv.gz"}
	DatasetPrincipals = Dataset{Name: "title.principals", Filename: "title.principals.tsv.gz"}
)

// Datasets lists every dump in import order. Basics must come first: the
// other datasets are filtered against the tconst set it produces.
var Datasets = []Dataset{DatasetBasics, DatasetRatings, DatasetAkas, DatasetPrincipals}

func (d Dataset) URL() string {
	return fmt.Sprintf("%s/%s", datasetBaseURL, d.Filename)
}

// DefaultTitleTypes is the title-type whitelist applied to title.basics.
// Episode rows dominate the dump and are excluded unless opted in.
var DefaultTitleTypes = []string{"movie", "tvSeries", "tvMiniSeries", "tvMovie"}

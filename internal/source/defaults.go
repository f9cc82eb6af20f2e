package source

import "time"

// DefaultSpecs is the built-in source table. Sources that need a title slug
// or release year are not included since no metadata lookup exists.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:      "broflix",
			MovieURL:  "https://broflix.si/watch/movie/{{.ID}}",
			SeriesURL: "https://broflix.si/watch/tv/{{.ID}}?season={{.Season}}&episode={{.Episode}}",
			Steps: []Step{
				{Action: ActionSelectEachOption, Selector: "select", Delay: 3 * time.Second},
			},
		},
		{
			Name:      "fmovies",
			MovieURL:  "https://fmovies.cat/watch/movie/{{.ID}}",
			SeriesURL: "https://fmovies.cat/watch/tv/{{.ID}}/{{.Season}}/{{.Episode}}",
			Steps: []Step{
				{Action: ActionClick, Selector: `.group[style*="border-width: 1px"] svg.lucide-server`},
				{Action: ActionWaitForElement, Selector: ".text-sm.font-medium.truncate", Timeout: 5 * time.Second},
				{Action: ActionClickEachMatching, Selector: ".h-full.flex.flex-col.items-center.justify-center", Delay: 3 * time.Second},
			},
		},
		{
			Name:      "videasy",
			MovieURL:  "https://player.videasy.net/movie/{{.ID}}",
			SeriesURL: "https://player.videasy.net/tv/{{.ID}}/{{.Season}}/{{.Episode}}",
			Steps: []Step{
				{Action: ActionClick, Selector: "button", Delay: 2 * time.Second},
			},
		},
		{
			Name:      "vidora",
			MovieURL:  "https://watch.vidora.su/watch/movie/{{.ID}}",
			SeriesURL: "https://watch.vidora.su/watch/tv/{{.ID}}/{{.Season}}/{{.Episode}}",
			Steps:     []Step{{Action: ActionNoop}},
		},
		{
			Name:      "vidsrc.wtf",
			MovieURL:  "https://www.vidsrc.wtf/api/3/movie/?id={{.ID}}",
			SeriesURL: "https://www.vidsrc.wtf/api/3/tv/?id={{.ID}}&s={{.Season}}&e={{.Episode}}",
			Steps:     []Step{{Action: ActionNoop}},
		},
		{
			Name:      "vidsrc.xyz",
			MovieURL:  "https://vidsrc.xyz/embed/movie/{{.ID}}",
			SeriesURL: "https://vidsrc.xyz/embed/tv/{{.ID}}/{{.Season}}/{{.Episode}}",
			Steps: []Step{
				{Action: ActionNavigateIntoFrame, Selector: "iframe"},
				{Action: ActionClick, Selector: "#pl_but", Delay: 3 * time.Second},
			},
		},
	}
}

// Default returns a Registry over DefaultSpecs.
func Default() *Registry {
	reg, err := New(DefaultSpecs())
	if err != nil {
		panic(err)
	}
	return reg
}

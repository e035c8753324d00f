package namesource

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// UnknownCountry is assigned when neither the record nor the seed URL names a country.
const UnknownCountry = "Unknown"

// countryByTLD maps the final label of a public suffix to a country name.
var countryByTLD = map[string]string{
	"edu": "USA",
	"us":  "USA",
	"uk":  "UK",
	"ca":  "Canada",
	"au":  "Australia",
	"de":  "Germany",
	"fr":  "France",
	"jp":  "Japan",
	"cn":  "China",
	"in":  "India",
	"br":  "Brazil",
	"mx":  "Mexico",
	"es":  "Spain",
	"it":  "Italy",
	"nl":  "Netherlands",
	"se":  "Sweden",
	"no":  "Norway",
	"dk":  "Denmark",
	"fi":  "Finland",
	"ch":  "Switzerland",
	"at":  "Austria",
	"be":  "Belgium",
	"ie":  "Ireland",
	"nz":  "New Zealand",
	"za":  "South Africa",
	"kr":  "South Korea",
	"sg":  "Singapore",
	"my":  "Malaysia",
	"th":  "Thailand",
	"hk":  "Hong Kong",
	"tw":  "Taiwan",
	"tr":  "Turkey",
	"pl":  "Poland",
	"eg":  "Egypt",
	"ar":  "Argentina",
	"cl":  "Chile",
	"co":  "Colombia",
	"pt":  "Portugal",
	"ru":  "Russia",
	"il":  "Israel",
}

// InferCountry guesses a country from the seed URL's public suffix.
func InferCountry(seedURL string) string {
	u, err := url.Parse(strings.TrimSpace(seedURL))
	if err != nil || u.Hostname() == "" {
		return UnknownCountry
	}
	suffix, _ := publicsuffix.PublicSuffix(strings.ToLower(u.Hostname()))
	labels := strings.Split(suffix, ".")
	if country, ok := countryByTLD[labels[len(labels)-1]]; ok {
		return country
	}
	return UnknownCountry
}

package news

import "marketsim/internal/market"

type globalTemplate struct {
	typ      string
	name     string
	impact   float64
	affected []market.Sector
}

// Global event catalogue. Picked uniformly, so the order is replay-relevant.
var globalTemplates = []globalTemplate{
	{"pandemic", "Global pandemic declared", -0.003,
		[]market.Sector{market.SectorConsumer, market.SectorEntertainment, market.SectorAuto}},
	{"financial_meltdown", "Major bank collapses", -0.004,
		[]market.Sector{market.SectorFinance}},
	{"war", "Regional war breaks out", -0.0035,
		[]market.Sector{market.SectorAuto, market.SectorConsumer, market.SectorTech}},
	{"tech_boom", "AI breakthrough ignites tech rally", 0.003,
		[]market.Sector{market.SectorTech}},
	{"stimulus", "Government announces stimulus package", 0.0025, nil},
}

// Season is the in-game calendar quarter.
type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonWinter Season = "winter"
)

// DaysPerYear is the length of the in-game year.
const DaysPerYear = 360

// SeasonOf maps an in-game day to its season.
func SeasonOf(day int) Season {
	switch (day % DaysPerYear) / (DaysPerYear / 4) {
	case 0:
		return SeasonSpring
	case 1:
		return SeasonSummer
	case 2:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}

type seasonalTemplate struct {
	headline string
	sector   market.Sector
	sign     float64
}

var seasonalTemplates = map[Season][]seasonalTemplate{
	SeasonSpring: {
		{"Spring earnings season beats estimates", market.SectorTech, 1},
		{"Spring drug approvals accelerate", market.SectorBio, 1},
	},
	SeasonSummer: {
		{"Summer travel demand surges", market.SectorConsumer, 1},
		{"Blockbuster summer releases", market.SectorEntertainment, 1},
		{"Heatwave strains factories", market.SectorSteel, -1},
	},
	SeasonAutumn: {
		{"Harvest festival spending", market.SectorConsumer, 1},
		{"New model year launches", market.SectorAuto, 1},
	},
	SeasonWinter: {
		{"Winter heating demand spikes", market.SectorEnergy, 1},
		{"Holiday shopping slows", market.SectorConsumer, -1},
	},
}

var headlineFormats = map[Category]string{
	CategoryPositive:             "%s wins major contract",
	CategoryNegative:             "%s faces regulatory inquiry",
	CategoryFundamentalsPositive: "%s reports record earnings",
	CategoryFundamentalsNegative: "%s misses earnings forecast",
}

var sectorHeadlineFormats = map[Category]string{
	CategoryPositive: "Tailwinds lift the %s sector",
	CategoryNegative: "Headwinds weigh on the %s sector",
}

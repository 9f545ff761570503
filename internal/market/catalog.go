package market

// DefaultCatalog returns the built-in instrument universe with every daily
// field opened at the starting price. Callers get fresh copies.
func DefaultCatalog() []*Instrument {
	list := []*Instrument{
		stock(1, "SMSG", "Samsong Electronics", SectorTech, 72000, &Fundamentals{PERatio: 12, MarketCap: 4.3e14, DebtRatio: 0.3, DividendYield: 2.0}),
		stock(2, "HNXB", "Hanex Biologics", SectorBio, 35000, &Fundamentals{PERatio: 60, MarketCap: 2e12, DebtRatio: 0.5, DividendYield: 0}),
		stock(3, "KBFN", "KB Financial", SectorFinance, 52000, &Fundamentals{PERatio: 6, MarketCap: 2e13, DebtRatio: 3.5, DividendYield: 5.5}),
		stock(4, "SKEN", "SK Energy", SectorEnergy, 110000, &Fundamentals{PERatio: 9, MarketCap: 1.5e13, DebtRatio: 1.2, DividendYield: 3.5}),
		stock(5, "POSS", "Posteel", SectorSteel, 380000, &Fundamentals{PERatio: 7, MarketCap: 3e13, DebtRatio: 0.8, DividendYield: 4.0}),
		stock(6, "CNSM", "Consumma", SectorConsumer, 18500, &Fundamentals{PERatio: 18, MarketCap: 3e12, DebtRatio: 0.6, DividendYield: 1.5}),
		stock(7, "HYMT", "Hyundo Motor", SectorAuto, 185000, &Fundamentals{PERatio: 5, MarketCap: 4e13, DebtRatio: 1.5, DividendYield: 3.0}),
		stock(8, "ENTS", "Starlight Entertainment", SectorEntertainment, 42000, &Fundamentals{PERatio: 35, MarketCap: 1.5e12, DebtRatio: 0.4, DividendYield: 0.2}),
		{ID: 9, Code: "KX200", Name: "KX 200 Index ETF", Kind: KindETF, Sector: SectorTech, Price: 35000},
		{ID: 10, Code: "KX200L", Name: "KX 200 Leverage", Kind: KindETF, Sector: SectorTech, Price: 15000,
			Linkage: &Linkage{BaseInstrumentID: 9, Multiplier: 2, Category: CategoryLeverage}},
		{ID: 11, Code: "KX200I", Name: "KX 200 Inverse", Kind: KindETF, Sector: SectorTech, Price: 4500,
			Linkage: &Linkage{BaseInstrumentID: 9, Multiplier: 1, Category: CategoryInverse}},
		{ID: 12, Code: "SEMI2X", Name: "Semiconductor 2X", Kind: KindETF, Sector: SectorTech, Price: 9800,
			Linkage: &Linkage{Multiplier: 2, Category: CategoryLeverage}},
		{ID: 13, Code: "BTC", Name: "Bitcoin", Kind: KindCrypto, Sector: SectorFinance, Price: 85000000},
		{ID: 14, Code: "ETH", Name: "Ethereum", Kind: KindCrypto, Sector: SectorFinance, Price: 4500000},
		{ID: 15, Code: "KTB10", Name: "Treasury 10Y", Kind: KindBond, Sector: SectorFinance, Price: 10000},
		{ID: 16, Code: "WTI", Name: "Crude Oil", Kind: KindCommodity, Sector: SectorEnergy, Price: 80000},
		{ID: 17, Code: "GOLD", Name: "Gold", Kind: KindCommodity, Sector: SectorSteel, Price: 95000},
	}

	for _, inst := range list {
		inst.BasePrice = inst.Price
		inst.OpenDay()
	}
	return list
}

func stock(id int, code, name string, sector Sector, price float64, f *Fundamentals) *Instrument {
	return &Instrument{
		ID:           id,
		Code:         code,
		Name:         name,
		Kind:         KindStock,
		Sector:       sector,
		Price:        price,
		Fundamentals: f,
	}
}

package aldi

import "strings"

type categoryRule struct {
	key      string
	category string
}

// Ordered: the first rule whose key occurs in a candidate wins.
var categoryRules = []categoryRule{
	{"aardappelen", "Groente, aardappelen"},
	{"groente", "Groente, aardappelen"},
	{"fruit", "Groente, aardappelen"},
	{"agf", "Groente, aardappelen"},
	{"vlees", "Vlees, vis, vega"},
	{"vis", "Vlees, vis, vega"},
	{"vega", "Vlees, vis, vega"},
	{"vegetarisch", "Vlees, vis, vega"},
	{"brood", "Brood, ontbijtgranen"},
	{"bakkerij", "Brood, ontbijtgranen"},
	{"ontbijt", "Brood, ontbijtgranen"},
	{"ontbijtgranen", "Brood, ontbijtgranen"},
	{"zuivel", "Zuivel, eieren"},
	{"yoghurt", "Zuivel, eieren"},
	{"kaas", "Zuivel, eieren"},
	{"melk", "Zuivel, eieren"},
	{"boter", "Zuivel, eieren"},
	{"eieren", "Zuivel, eieren"},
	{"sappen-frisdrank", "Frisdrank, sappen"},
	{"frisdrank", "Frisdrank, sappen"},
	{"sap", "Frisdrank, sappen"},
	{"dranken", "Frisdrank, sappen"},
	{"bier", "Bier, wijn, sterke drank"},
	{"wijn", "Bier, wijn, sterke drank"},
	{"alcohol", "Bier, wijn, sterke drank"},
	{"koffie", "Koffie, thee"},
	{"thee", "Koffie, thee"},
	{"thee-koffie", "Koffie, thee"},
	{"snoep", "Snoep, koek, chips"},
	{"chips", "Snoep, koek, chips"},
	{"snacks", "Snoep, koek, chips"},
	{"koeken", "Snoep, koek, chips"},
	{"diepvries", "Diepvries"},
	{"maaltijden", "Maaltijden, salades"},
	{"salades", "Maaltijden, salades"},
	{"soepen", "Maaltijden, salades"},
	{"pasta", "Maaltijden, salades"},
	{"baby", "Baby, verzorging"},
	{"verzorging", "Baby, verzorging"},
	{"drogisterij", "Verzorging, gezondheid"},
	{"gezondheid", "Verzorging, gezondheid"},
	{"huishouden", "Huishouden"},
	{"schoonmaak", "Huishouden"},
	{"nonfood", "Huishouden"},
	{"huisdieren", "Huisdieren"},
	{"dieren", "Huisdieren"},
	{"dierenvoer", "Huisdieren"},
	{"tuin", "Huis, tuin en seizoen"},
	{"seizoen", "Huis, tuin en seizoen"},
	{"feest", "Huis, tuin en seizoen"},
	{"biologisch", "Biologisch assortiment"},
	{"speciaal", "Speciaal assortiment"},
}

var nameRules = []struct {
	words    []string
	category string
}{
	{[]string{"melk", "kaas", "yoghurt", "boter"}, "Zuivel, eieren"},
	{[]string{"appel", "banaan", "groente", "aardappel"}, "Groente, aardappelen"},
	{[]string{"vis", "kip", "gehakt", "worst"}, "Vlees, vis, vega"},
	{[]string{"koek", "chips", "snoep", "reep"}, "Snoep, koek, chips"},
	{[]string{"bier", "wijn", "cola", "fanta", "sap"}, "Frisdrank, sappen"},
	{[]string{"koffie", "thee"}, "Koffie, thee"},
	{[]string{"wasmiddel", "doekjes", "toilet"}, "Huishouden"},
}

func normalizeLabel(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, "&", "en")
	return strings.TrimSpace(s)
}

func matchCategory(candidates []string) (string, bool) {
	for _, c := range candidates {
		norm := normalizeLabel(c)
		for _, rule := range categoryRules {
			if strings.Contains(norm, rule.key) {
				return rule.category, true
			}
		}
	}
	return "", false
}

func categoryFromName(name string) string {
	name = strings.ToLower(name)
	for _, rule := range nameRules {
		for _, w := range rule.words {
			if strings.Contains(name, w) {
				return rule.category
			}
		}
	}
	return fallbackCategory
}

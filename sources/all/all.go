// Package all registers every built-in source adapter.
package all

import (
	_ "github.com/aluiziolira/go-scrape-catalogs/sources/ah"
	_ "github.com/aluiziolira/go-scrape-catalogs/sources/aldi"
	_ "github.com/aluiziolira/go-scrape-catalogs/sources/dirk"
	_ "github.com/aluiziolira/go-scrape-catalogs/sources/hoogvliet"
	_ "github.com/aluiziolira/go-scrape-catalogs/sources/jumbo"
)

// Package scripts registers every bundled script. Commands blank-import it
// to populate the runtime registry; nothing here is part of the runtime
// contract, and a host shipping its own scripts simply imports those
// packages instead.
package scripts

import (
	_ "scrapekit/scripts/article"
	_ "scrapekit/scripts/directory"
	_ "scrapekit/scripts/gallery"
	_ "scrapekit/scripts/imageboard"
)

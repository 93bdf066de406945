package browser

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

const gridItemClass = "cy-live-casino-grid-item-"

type rawTable struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var tablesScript = fmt.Sprintf(`(() => {
	const prefix = %q;
	const re = new RegExp(prefix + "(\\d+)");
	return Array.from(document.querySelectorAll('[class*="' + prefix + '"]')).map(el => {
		const m = String(el.className).match(re);
		const title = el.querySelector('[class*="title"]');
		return {
			id: m ? m[1] : "",
			name: ((title && title.textContent) || el.getAttribute("title") || "").trim(),
		};
	});
})()`, gridItemClass)

// readScript returns the visible history values of one tile. A tile that is not
// rendered yields an empty list, not an error.
func readScript(tableID string) string {
	sel, _ := json.Marshal("." + gridItemClass + tableID)
	return fmt.Sprintf(`(() => {
	const tile = document.querySelector(%s);
	if (!tile) return [];
	const nodes = tile.querySelectorAll('[class*="roulette-number"], [class*="history"] span');
	return Array.from(nodes).slice(0, 8).map(n => (n.textContent || "").trim()).filter(Boolean);
})()`, sel)
}

func tablesFromRaw(raw []rawTable) []models.Table {
	seen := make(map[string]bool, len(raw))
	tables := make([]models.Table, 0, len(raw))
	for _, r := range raw {
		id := strings.TrimSpace(r.ID)
		name := strings.TrimSpace(r.Name)
		if id == "" {
			if name == "" {
				continue
			}
			id = idFromTitle(name)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		tables = append(tables, models.Table{ID: id, DisplayName: name})
	}
	return tables
}

// idFromTitle derives a stable id for tiles that carry no numeric id.
func idFromTitle(title string) string {
	sum := md5.Sum([]byte(title))
	return hex.EncodeToString(sum[:])[:12]
}

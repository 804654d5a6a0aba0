package service

import (
	"fmt"
	"sort"
	"strings"

	"parkwatch/internal/entities"
)

// FormatReport renders a report as the plain-text reply shown to users.
func FormatReport(r *entities.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 的空車位資訊（共 %d 格）：\n", r.Query, r.Total)
	for _, seg := range r.Segments {
		fmt.Fprintf(&b, "路段: %s (代碼: %s)，空位 %d 格\n", seg.Name, seg.ID, seg.Total)
		for _, z := range seg.Zones {
			fmt.Fprintf(&b, "  分組: %s（%d 格）\n", z.Name, z.Count)
			for i, s := range z.Spots {
				fmt.Fprintf(&b, "    %d. 車格: %s，%s\n", i+1, s.Number, ageText(s.AgeMinutes))
			}
			if more := z.Count - len(z.Spots); more > 0 {
				fmt.Fprintf(&b, "    …另有 %d 格\n", more)
			}
		}
	}
	if n := len(r.Diagnostics.SegmentErrors); n > 0 {
		ids := make([]string, 0, n)
		for id := range r.Diagnostics.SegmentErrors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintf(&b, "注意：%d 個路段暫時無法查詢（%s）。\n", n, strings.Join(ids, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func ageText(minutes int) string {
	if minutes == 0 {
		return "剛更新"
	}
	return fmt.Sprintf("%d 分鐘前更新", minutes)
}

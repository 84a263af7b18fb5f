package bot

// Paginate はitemsをpageSize件ずつのページに分割する。
// pageSizeが0以下の場合は1ページにまとめる。itemsが空ならnilを返す。
func Paginate[T any](items []T, pageSize int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if pageSize <= 0 {
		pageSize = len(items)
	}
	pages := make([][]T, 0, (len(items)+pageSize-1)/pageSize)
	for start := 0; start < len(items); start += pageSize {
		end := min(start+pageSize, len(items))
		pages = append(pages, items[start:end])
	}
	return pages
}

// Package pagination turns Jira's paginated search and bounded bulk fetch
// endpoints into flat result sets.
//
// Searcher follows nextPageToken continuation until Jira reports the last
// page and returns the matching issue keys in server order. BatchFetcher
// hydrates a key list into full issue records, 100 keys per bulk fetch by
// default:
//
//	searcher := pagination.NewSearcher(jiraClient, pagination.DefaultSearchConfig(), logger)
//	keys, err := searcher.Search(ctx, `parent = "APPS-1"`)
//
//	fetcher := pagination.NewBatchFetcher(jiraClient, pagination.DefaultConfig("parent"), logger)
//	issues, err := fetcher.FetchDetails(ctx, keys, pagination.FetchOptions{})
//
// Batches run sequentially. A batch that still fails after its configured
// attempts is logged, counted and skipped, so FetchDetails only returns an
// error when the context is done.
package pagination

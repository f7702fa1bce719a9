// Package crawler declares the collaborator boundaries used by the crawl
// orchestrator: the headless browser, the message publisher, and small
// infrastructure seams such as the clock. Implementations live in sibling
// packages so the worker loop can be exercised with fakes.
package crawler

// Package domain holds the types shared by the scrape, price and alert
// pipeline stages: proxy endpoints, scrape commands and outcomes, price
// history, alert rules and the events that flow between stages.
package domain

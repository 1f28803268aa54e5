// Package e2e provides end-to-end tests that drive the HTTP API with a corpus of cached prompts.
package e2e

import "fmt"

// Entry is a cached prompt (id, context).
type Entry struct {
	ID      int64
	Context string
}

// QueryTestCase defines a query and the id it must resolve to. Miss cases expect no hit.
type QueryTestCase struct {
	Query       string
	ExpectedID  int64
	Miss        bool
	Description string
}

// Corpus holds entries and query test cases for E2E tests.
type Corpus struct {
	Entries      []Entry
	TestCases    []QueryTestCase
	TotalEntries int
	TotalQueries int
}

var prompts = []string{
	"What is the capital of France?",
	"Explain how a hash map handles collisions.",
	"Summarize the plot of Moby Dick in two sentences.",
	"How do I reverse a linked list in place?",
	"Translate 'good morning' into Japanese.",
	"What causes the seasons on Earth?",
	"Write a haiku about autumn leaves.",
	"Mathematics is the language of the universe.",
	"How does TCP congestion control work?",
	"List three benefits of regular exercise.",
	"What is the difference between a process and a thread?",
	"Convert 100 degrees Fahrenheit to Celsius.",
	"Explain the CAP theorem with an example.",
	"Who painted the Mona Lisa?",
	"Give me a recipe for a simple tomato soup.",
	"Why is the sky blue?",
	"What does the Go scheduler do when a goroutine blocks?",
	"Describe photosynthesis for a ten year old.",
	"How many bones are in the adult human body?",
	"Write a SQL query that counts orders per customer.",
	"What is a random projection forest?",
	"Explain eventual consistency in distributed databases.",
	"Recommend a book about the history of computing.",
	"What is the boiling point of water at sea level?",
	"How do vaccines train the immune system?",
}

var unseen = []string{
	"Name the largest moon of Saturn.",
	"How do I tune the garbage collector in a JVM?",
	"What rhymes with orange?",
	"Plan a three day trip to Lisbon.",
	"Explain quantum entanglement without equations.",
}

// BuildCorpus returns a corpus with one entry per prompt, a hit case per entry and a miss case per unseen prompt.
// Ids are spaced so that positions and ids never coincide.
func BuildCorpus() *Corpus {
	entries := make([]Entry, len(prompts))
	cases := make([]QueryTestCase, 0, len(prompts)+len(unseen))
	for i, p := range prompts {
		id := int64(1000 + i*7)
		entries[i] = Entry{ID: id, Context: p}
		cases = append(cases, QueryTestCase{
			Query:       p,
			ExpectedID:  id,
			Description: fmt.Sprintf("hit_%d", id),
		})
	}
	for i, p := range unseen {
		cases = append(cases, QueryTestCase{
			Query:       p,
			Miss:        true,
			Description: fmt.Sprintf("miss_%d", i),
		})
	}
	return &Corpus{
		Entries:      entries,
		TestCases:    cases,
		TotalEntries: len(entries),
		TotalQueries: len(cases),
	}
}

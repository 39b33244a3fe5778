package shown_test

import (
	"context"
	"fmt"
	"time"

	"github.com/Traegervector/shown"
	"github.com/Traegervector/shown/store"
)

// Example demonstrates the most basic setup: an in-memory cache in front of
// a graph endpoint, read through the accessor layer.
func Example() {
	client := &shown.HTTPClient{
		BaseURL: "https://graph.microsoft.com",
	}

	graph := shown.NewGraph(client, shown.NewCaches(store.NewMemoryProvider()))

	user, err := graph.GetMe(context.Background())
	if err != nil {
		fmt.Printf("Fetching the signed-in user failed: %s", err.Error())
		return
	}

	fmt.Println(user.DisplayName)
}

// Example_durableCache demonstrates a cache that survives restarts by
// persisting entries into a SQLite database, with a policy that keeps
// presence short-lived.
func Example_durableCache() {
	provider, err := store.OpenSQLiteProvider("shown-cache.db")
	if err != nil {
		fmt.Printf("Opening the cache failed: %s", err.Error())
		return
	}
	defer provider.Close()

	caches := shown.NewCaches(provider)
	caches.Config.Presence.InvalidationPeriod = time.Minute

	graph := shown.NewGraph(&shown.HTTPClient{BaseURL: "https://graph.microsoft.com"}, caches)

	presences, err := graph.GetUsersPresence(context.Background(), []string{"user-a", "user-b"})
	if err != nil {
		fmt.Printf("Fetching presence failed: %s", err.Error())
		return
	}

	for userID, presence := range presences {
		fmt.Printf("%s is %s\n", userID, presence.Availability)
	}
}

// Example_batch demonstrates coalescing reads into composite calls. Ids
// missing from the result map simply had no data; that is not an error.
func Example_batch() {
	client := &shown.HTTPClient{BaseURL: "https://graph.microsoft.com"}

	batch := shown.NewBatch(client)
	batch.Get("me", "/me", []string{"user.read"}, nil)
	batch.Get("photo", "/me/photo/$value", []string{"user.read"}, nil)

	responses, err := batch.ExecuteAll(context.Background())
	if err != nil {
		fmt.Printf("Batch failed: %s", err.Error())
		return
	}

	if photo, found := responses["photo"]; found {
		uri, _ := photo.ContentString()
		fmt.Println(uri)
	}
}

// Package feedd exposes the Go APIs behind the social-feed media service:
// chunked resumable uploads into object storage, feed post metadata, user
// profiles, and chat rendering. The server runs as a single binary but the
// package also makes it easy to embed the server in another process.
//
// # Running a server
//
//	cfg := feedd.Config{
//	    Store:        "s3://minio:9000/feedd-media?insecure=1",
//	    Tracker:      "redis://redis:6379/0",
//	    Metadata:     "dynamo://?region=eu-north-1",
//	    Listen:       ":8480",
//	    MediaCDNBase: "https://cdn.example.com/media/",
//	}
//	srv, err := feedd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("feedd: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("feedd shutdown: %v", err)
//	    }
//	}()
//
// # Chunked uploads
//
// Clients slice a media file into fixed-size chunks (4 MiB by default) and
// POST each one to /v1/uploads/{session}/chunks with its chunk index and the
// session total. Chunks may arrive in any order and may be retried; each is
// staged as an uncommitted block named so that a lexicographic sort of block
// ids restores chunk order. The chunk whose arrival brings the distinct
// block count up to the total triggers finalization: the block list is
// committed into one visible object and a feed post is persisted. With
// Config.AsyncFinalize the last chunk instead enqueues the session on a
// completion queue drained by a background worker. A per-session lease keeps
// concurrent finalizers out of each other's way.
//
// # Storage backends
//
// Configure the blob layer via Config.Store:
//
//   - `mem://` – in-memory (tests and local experimentation)
//   - `azure://account/container[/prefix]` – Azure Blob Storage (Shared Key or SAS auth)
//   - `s3://host:port/bucket[/prefix]` – MinIO or other S3-compatible stores
//
// Upload session tracking lives behind Config.Tracker (`mem://` or a
// `redis://` URL) and post/user/chat records behind Config.Metadata
// (`mem://` or `dynamo://`).
//
// # Embedding
//
// StartServer launches a server in a goroutine, waits for readiness, and
// returns a stop function:
//
//	cfg := feedd.Config{Store: "mem://", Listen: "127.0.0.1:0"}
//	srv, stop, err := feedd.StartServer(ctx, cfg)
//	if err != nil { log.Fatal(err) }
//	defer stop(context.Background())
package feedd

/*
Package adapter runs one manualbox mount session.

An Adapter is the only place where the pieces meet. It holds the container
key in memory, the advisory lock on the container file, the in-memory
store, the access gate, the operation facade and the kernel mount. Nothing
in the other packages is global; two Adapters over two containers do not
share state.

# Lifecycle

Start:
 1. Take the advisory lock on "<container>.lock". A second session on the
    same container fails with CONTAINER_LOCKED.
 2. Find the key: MANUALBOX_KEY, then storage.key_file, then the
    KeyPrompter. When no container exists yet and no key was supplied, a
    fresh age identity is generated.
 3. Load the container. A wrong key (INVALID_KEY) or an undecodable
    container (MALFORMED_CONTAINER) aborts the start with everything
    released; nothing is mounted.
 4. Build the metrics collector, the gate (decision command, timeout,
    record bound, process labels) and the facade (policy, session keying,
    statfs mode).
 5. Write a new container at once. A generated key is passed to
    KeyPrompter.AnnounceKey only after that write succeeds, and is never
    shown again; if it cannot be shown the new container is removed.
 6. Mount and start the record sweeper.

Save writes a snapshot of the store whenever asked; the CLI calls it on
SIGUSR1.

Stop unmounts, stops the sweeper, saves, stops metrics and releases the
lock. The container is saved even when unmounting fails, so that nothing
written through the mount is lost.

# Usage

	a, err := adapter.New("/mnt/box", cfg,
		adapter.WithLogger(logger),
		adapter.WithKeyPrompter(terminalPrompter{}),
	)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())
	a.Wait()
*/
package adapter

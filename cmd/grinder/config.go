package grinder

const (
	// DefParallelism is the default number of concurrent descriptor
	// downloads when -parallel is not given.
	DefParallelism = 5
	// DefNumOldPackages is the default retained-revision count for
	// -remove-old, matching GrinderUtils.py's historical default.
	DefNumOldPackages = 2
)

const DESCRIPTION = `
grinder mirrors a remote package repository to a local directory: it
downloads every package, delta package, and distribution-tree file a
repository advertises, verifies each against its advertised size and
checksum, and lays the result out on disk or in a shared content-addressed
store.
`

const SyncDescription = `The sync command mirrors one repository: it asks the
configured metadata source (yum repodata, RHN channel, or a plain
PULP_MANIFEST file listing) for the set of content objects it advertises,
downloads everything in parallel, verifies it, and finalizes on-disk
metadata.

Example:
        grinder sync --source-type file --url https://example.com/repo --repo-label myrepo --basepath /var/lib/grinder

`

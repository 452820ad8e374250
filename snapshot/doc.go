/*
package snapshot defines the versions a session moves through.

A Snapshot is one immutable FSDB stream held by a store (see snapshot/store),
named by an opaque ID. The session's original input is a Snapshot with no
producing command; every successful transform yields a new Snapshot whose
ProducedBy records the command that made it.

Snapshots are never edited. Transforms read one and write another; undo
(see snapshot/versions) only changes which one is current.
*/
package snapshot

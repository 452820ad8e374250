package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Session metrics **************************/
	/*
		number of transforms that produced a new version
	*/
	SessionTransformSuccessCounter = "transformSuccessCounter"

	/*
		number of transforms that failed to launch or exited non-zero
	*/
	SessionTransformFailureCounter = "transformFailureCounter"

	/*
		number of transform requests rejected because another was running
	*/
	SessionTransformBusyCounter = "transformBusyCounter"

	/*
		wall time of each transform, from launch to commit or failure
	*/
	SessionTransformLatency_ms = "transformLatency_ms"

	/*
		number of successful undos
	*/
	SessionUndoCounter = "undoCounter"

	/*
		number of versions currently on the stack, including the original
	*/
	SessionVersionDepthGauge = "versionDepthGauge"

	/*
		rows handed to the caller by LoadMore, across all versions
	*/
	SessionRowsLoadedCounter = "rowsLoadedCounter"

	/*
		number of times binding a version failed to parse its header
	*/
	SessionBindFailureCounter = "bindFailureCounter"

	/*
		number of successful saves
	*/
	SessionSaveCounter = "saveCounter"
)

package notify

const htmlHead = `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			ul {
				margin-top: -0.5em;
				margin-left: -0.5em;
			}
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				overflow-x: auto;
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold {
				color: #882828;
				font-weight: 900;
			}
		</style>
	</head>
`

const defaultErrorTemplate = htmlHead + `
	<body>
		<p>Job failed on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Job: <span class="bold">{{.Kind}}</span></li>
			<li>Project: <span class="bold">{{.BuildDir}}</span></li>
			<li>Status: <span class="bold">{{.Status}}</span></li>
			<li>Duration: {{.Duration}}</li>
		</ul>
		<pre>
{{.Error}}
		</pre>
		{{if .Log}}<pre>
{{.Log}}
		</pre>{{end}}
	</body>
</html>
`

const defaultCompletionTemplate = htmlHead + `
	<body>
		<p>Job completed on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Job: <span class="bold">{{.Kind}}</span></li>
			<li>Project: <span class="bold">{{.BuildDir}}</span></li>
			<li>Status: <span class="bold">{{.Status}}</span></li>
			<li>Duration: {{.Duration}}</li>
		</ul>
	</body>
</html>
`

/*
Package proxy implements the edge pipeline in front of the page renderer.

Every request is handled in a single, strictly sequential pass:

 1. classification: the path is matched against the current route table,
    the matched definitions are recorded for the renderer.

 2. redirects: duplicate slashes, trailing slash policy, locale redirect
    and the configured redirects. The first redirect answers the request.

 3. middleware: the user interceptor may continue, rewrite or answer the
    request. A rewrite to another origin is relayed upstream right away,
    skipping the remaining phases.

 4. rewrites: the beforeFiles rules, then, when the path matches no
    static route or asset, the afterFiles rules, then, when the path
    still matches no route, the fallback rules. A path matching nothing
    after the fallback is rendered as the not found page, with status
    404.

 5. locale: the effective locale is applied to the path.

 6. cache: pre-renderable paths are served from the incremental cache,
    when fresh or stale. Stale entries are revalidated in the background.

 7. rendering: the event is forwarded to the renderer, with the
    diagnostic headers.

When the renderer or an external rewrite target is unavailable, the error
page is rendered instead, with status 500.

Each phase runs in its own span and its duration is measured.
*/
package proxy

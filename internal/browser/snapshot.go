package browser

// snapshotScript runs in the page: it clears stale ref attributes, collects
// interactive elements, filters invisible ones unless asked otherwise,
// deduplicates, and tags survivors with sequential data-nx-ref numbers.
const snapshotScript = `(opts) => {
	const includeInvisible = !!opts.includeInvisible;
	const maxElements = opts.maxElements;

	document.querySelectorAll('[data-nx-ref]').forEach((el) => el.removeAttribute('data-nx-ref'));

	const selectors = [
		'a[href]', 'button', 'input', 'select', 'textarea',
		'[role="button"]', '[role="link"]', '[role="menuitem"]',
		'[onclick]', '[contenteditable="true"]', '[tabindex]', '[aria-label]',
	];
	const raw = Array.from(document.querySelectorAll(selectors.join(',')));

	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};

	const seen = new Set();
	const elements = [];
	for (const el of raw) {
		if (el.hasAttribute('tabindex')) {
			const ti = parseInt(el.getAttribute('tabindex'), 10);
			if (!isNaN(ti) && ti < 0 && !el.matches(selectors.slice(0, 10).join(','))) continue;
		}
		if (!includeInvisible && !isVisible(el)) continue;

		const rect = el.getBoundingClientRect();
		const text = (el.innerText || el.value || '').replace(/\s+/g, ' ').trim();
		const key = [
			el.tagName, el.id || '', el.getAttribute('name') || '',
			Math.round(rect.x), Math.round(rect.y), text.slice(0, 40),
		].join('|');
		if (seen.has(key)) continue;
		seen.add(key);

		const ref = elements.length + 1;
		el.setAttribute('data-nx-ref', String(ref));
		elements.push({
			ref: ref,
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			role: el.getAttribute('role') || '',
			name: el.getAttribute('name') || '',
			type: el.getAttribute('type') || '',
			text: text.slice(0, 160),
			ariaLabel: el.getAttribute('aria-label') || '',
			placeholder: el.getAttribute('placeholder') || '',
			href: el.getAttribute('href') || '',
			x: rect.x, y: rect.y, width: rect.width, height: rect.height,
		});
		if (elements.length >= maxElements) break;
	}

	return { url: window.location.href, title: document.title, elements: elements };
}`
